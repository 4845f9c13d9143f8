package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rsautomocion/tallerbot/internal/billing"
	"github.com/rsautomocion/tallerbot/internal/models"
)

// InMemoryStore implements Store with maps guarded by a mutex. It is used in
// tests and as a development fallback when no DSN is configured.
type InMemoryStore struct {
	mu       sync.Mutex
	clientes map[string]models.Cliente
	ots      map[string]models.OrdenTrabajo
	facturas map[string]models.Factura
	pagos    map[string][]models.Pago
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		clientes: make(map[string]models.Cliente),
		ots:      make(map[string]models.OrdenTrabajo),
		facturas: make(map[string]models.Factura),
		pagos:    make(map[string][]models.Pago),
	}
}

func (s *InMemoryStore) CreateCliente(c models.Cliente) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.clientes {
		if strings.EqualFold(existing.NIF, c.NIF) {
			return models.ErrDuplicateNIF
		}
	}
	s.clientes[c.ClienteID] = c
	return nil
}

func (s *InMemoryStore) GetCliente(clienteID string) (*models.Cliente, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clientes[clienteID]
	if !ok {
		return nil, models.ErrClienteNotFound
	}
	return &c, nil
}

func (s *InMemoryStore) GetClienteByNIF(nif string) (*models.Cliente, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clientes {
		if strings.EqualFold(c.NIF, nif) {
			out := c
			return &out, nil
		}
	}
	return nil, models.ErrClienteNotFound
}

func (s *InMemoryStore) SearchClientes(query string, limit int) ([]models.Cliente, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.ErrEmptySearchQuery
	}
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Cliente
	for _, c := range s.clientes {
		if c.Estado != models.ClienteActivo {
			continue
		}
		haystack := strings.ToLower(c.NombreCompleto() + " " + c.NIF + " " + c.Email)
		if strings.Contains(haystack, q) {
			out = append(out, c)
		}
	}
	sortClientes(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListClientes(offset, limit int) ([]models.Cliente, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]models.Cliente, 0, len(s.clientes))
	for _, c := range s.clientes {
		all = append(all, c)
	}
	sortClientes(all)
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (s *InMemoryStore) UpdateCliente(c models.Cliente) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clientes[c.ClienteID]; !ok {
		return models.ErrClienteNotFound
	}
	for id, existing := range s.clientes {
		if id != c.ClienteID && strings.EqualFold(existing.NIF, c.NIF) {
			return models.ErrDuplicateNIF
		}
	}
	s.clientes[c.ClienteID] = c
	return nil
}

func (s *InMemoryStore) DeactivateCliente(clienteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clientes[clienteID]
	if !ok {
		return models.ErrClienteNotFound
	}
	c.Estado = models.ClienteInactivo
	c.ActualizadoEn = time.Now()
	s.clientes[clienteID] = c
	return nil
}

func (s *InMemoryStore) CreateOT(ot models.OrdenTrabajo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ots[ot.OTID] = ot
	return nil
}

func (s *InMemoryStore) GetOT(otID string) (*models.OrdenTrabajo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ot, ok := s.ots[otID]
	if !ok {
		return nil, models.ErrOTNotFound
	}
	return &ot, nil
}

func (s *InMemoryStore) ListOTs(offset, limit int) ([]models.OrdenTrabajo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]models.OrdenTrabajo, 0, len(s.ots))
	for _, ot := range s.ots {
		all = append(all, ot)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].FechaCreacion.After(all[j].FechaCreacion)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *InMemoryStore) UpdateOTEstado(otID string, estado models.EstadoOT, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ot, ok := s.ots[otID]
	if !ok {
		return models.ErrOTNotFound
	}
	if !models.CanTransitionOT(ot.Estado, estado) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, ot.Estado, estado)
	}
	ot.Estado = estado
	switch estado {
	case models.OTAprobado:
		ot.FechaAprobacion = &when
	case models.OTEnProceso:
		ot.FechaInicio = &when
	case models.OTFinalizado:
		ot.FechaFinalizacion = &when
	}
	s.ots[otID] = ot
	return nil
}

func (s *InMemoryStore) AddLineaOT(otID string, linea models.LineaOT) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ot, ok := s.ots[otID]
	if !ok {
		return models.ErrOTNotFound
	}
	linea.Subtotal = billing.LineaSubtotal(linea)
	ot.Lineas = append(ot.Lineas, linea)
	ot.Totales = billing.TotalesOT(ot.Lineas)
	s.ots[otID] = ot
	return nil
}

func (s *InMemoryStore) CreateFactura(f models.Factura) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facturas[f.FacturaID] = f
	return nil
}

func (s *InMemoryStore) GetFactura(facturaID string) (*models.Factura, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facturas[facturaID]
	if !ok {
		return nil, models.ErrFacturaNotFound
	}
	return &f, nil
}

func (s *InMemoryStore) ListFacturas(offset, limit int) ([]models.Factura, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]models.Factura, 0, len(s.facturas))
	for _, f := range s.facturas {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].FechaEmision.After(all[j].FechaEmision)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *InMemoryStore) NextNumeroFactura(year int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := fmt.Sprintf("%d-", year)
	max := 0
	for _, f := range s.facturas {
		if !strings.HasPrefix(f.Numero, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(f.Numero, prefix))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%d-%03d", year, max+1), nil
}

func (s *InMemoryStore) MarkFacturasVencidas(asOf time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, f := range s.facturas {
		if (f.Estado == models.FacturaPendiente || f.Estado == models.FacturaParcial) && f.FechaVencimiento.Before(asOf) {
			f.Estado = models.FacturaVencida
			s.facturas[id] = f
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) SetFacturaDocumentoURL(facturaID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facturas[facturaID]
	if !ok {
		return models.ErrFacturaNotFound
	}
	f.DocumentoURL = url
	s.facturas[facturaID] = f
	return nil
}

func (s *InMemoryStore) RegistrarPago(p models.Pago) (*models.Factura, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facturas[p.FacturaID]
	if !ok {
		return nil, models.ErrFacturaNotFound
	}
	if _, err := aplicarPago(&f, p.Monto); err != nil {
		return nil, err
	}
	s.pagos[p.FacturaID] = append(s.pagos[p.FacturaID], p)
	s.facturas[p.FacturaID] = f
	return &f, nil
}

func (s *InMemoryStore) ListPagosByFactura(facturaID string) ([]models.Pago, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pagos := s.pagos[facturaID]
	out := make([]models.Pago, len(pagos))
	copy(out, pagos)
	return out, nil
}

func (s *InMemoryStore) Resumen() (*models.Resumen, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r models.Resumen
	for _, ot := range s.ots {
		switch ot.Estado {
		case models.OTFinalizado:
			r.OTCompletadas++
		case models.OTPresupuesto, models.OTAprobado, models.OTEnProceso:
			r.OTPendientes++
		}
	}
	for _, f := range s.facturas {
		r.IngresosBrutos += f.Totales.Total
		r.IngresosNetos += f.PagadoAcumulado
		if f.Estado != models.FacturaPagada {
			r.PagosPendientes += f.Pendiente()
		}
		if f.Estado == models.FacturaVencida {
			r.FacturasVencidas++
		}
	}
	r.IngresosBrutos = billing.RoundCents(r.IngresosBrutos)
	r.IngresosNetos = billing.RoundCents(r.IngresosNetos)
	r.PagosPendientes = billing.RoundCents(r.PagosPendientes)
	return &r, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func sortClientes(cs []models.Cliente) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Apellidos != cs[j].Apellidos {
			return cs[i].Apellidos < cs[j].Apellidos
		}
		return cs[i].Nombre < cs[j].Nombre
	})
}
