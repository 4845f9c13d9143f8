package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rsautomocion/tallerbot/internal/models"
	"github.com/rsautomocion/tallerbot/internal/storage"
	"github.com/rsautomocion/tallerbot/internal/store"
	"github.com/rsautomocion/tallerbot/internal/wizard"
)

func seedClienteOT(t *testing.T, st *store.InMemoryStore, otEstado models.EstadoOT) (string, string) {
	t.Helper()
	now := time.Now()
	clienteID := "11111111-1111-1111-1111-111111111111"
	otID := "22222222-2222-2222-2222-222222222222"
	if err := st.CreateCliente(models.Cliente{
		ClienteID: clienteID, Nombre: "Juan", Apellidos: "Pérez", NIF: "12345678Z",
		Email: "juan@example.com", Direccion: "Calle Mayor 1", Estado: models.ClienteActivo,
		FechaAlta: now, CreadoEn: now, ActualizadoEn: now,
	}); err != nil {
		t.Fatalf("seed cliente failed: %v", err)
	}
	if err := st.CreateOT(models.OrdenTrabajo{
		OTID: otID, ClienteID: clienteID, Matricula: "1234ABC", Marca: "Seat", Modelo: "León",
		Descripcion: "Cambio de embrague completo", Horas: 4,
		Estado: models.OTPresupuesto, FechaCreacion: now,
	}); err != nil {
		t.Fatalf("seed OT failed: %v", err)
	}
	if err := st.AddLineaOT(otID, models.LineaOT{
		Tipo: models.LineaManoObra, Descripcion: "Mano de obra",
		Cantidad: 4, PrecioUnitario: 40, IVAPorcentaje: 21,
	}); err != nil {
		t.Fatalf("seed linea failed: %v", err)
	}
	if otEstado != models.OTPresupuesto {
		for _, e := range []models.EstadoOT{models.OTAprobado, models.OTEnProceso, models.OTFinalizado} {
			if err := st.UpdateOTEstado(otID, e, now); err != nil {
				t.Fatalf("transition to %s failed: %v", e, err)
			}
			if e == otEstado {
				break
			}
		}
	}
	return clienteID, otID
}

func TestCommitGenerarFactura(t *testing.T) {
	st := store.NewInMemoryStore()
	_, otID := seedClienteOT(t, st, models.OTFinalizado)
	dir := t.TempDir()
	uploader, err := storage.NewLocalStorage(dir)
	if err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}
	c := NewCommitters(st, uploader, models.Empresa{Nombre: "R&S Automoción S.L.", NIF: "B12345678", Direccion: "Nave 7"}, 40)

	res, err := c.commitGenerarFactura(context.Background(), wizard.IntentGenerarFactura, map[string]string{
		"ot_id": otID,
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if !strings.Contains(res.Message, "Factura generada exitosamente") {
		t.Errorf("message = %q", res.Message)
	}

	f, err := st.GetFactura(res.EntityID)
	if err != nil {
		t.Fatalf("factura not persisted: %v", err)
	}
	if f.Numero != "2025-001" && !strings.HasSuffix(f.Numero, "-001") {
		t.Errorf("numero = %q, want first of the year", f.Numero)
	}
	if f.TasaIVA != 21 {
		t.Errorf("TasaIVA = %v, want default 21", f.TasaIVA)
	}
	// mano de obra: 4h x 40 = 160, IVA 21% = 33.60
	if f.Totales.Total != 193.6 {
		t.Errorf("Total = %v, want 193.6", f.Totales.Total)
	}
	if f.DocumentoURL == "" {
		t.Error("DocumentoURL not set after upload")
	}
	days := f.FechaVencimiento.Sub(f.FechaEmision).Hours() / 24
	if days < 29.9 || days > 30.1 {
		t.Errorf("vencimiento = %.1f days after emision, want 30", days)
	}
}

func TestCommitGenerarFacturaRequiresFinalizada(t *testing.T) {
	st := store.NewInMemoryStore()
	_, otID := seedClienteOT(t, st, models.OTPresupuesto)
	c := NewCommitters(st, nil, models.Empresa{}, 40)

	_, err := c.commitGenerarFactura(context.Background(), wizard.IntentGenerarFactura, map[string]string{
		"ot_id": otID,
	})
	if !errors.Is(err, models.ErrOTNotFinalizada) {
		t.Errorf("expected ErrOTNotFinalizada, got %v", err)
	}
}

func TestCommitGenerarFacturaCustomTasa(t *testing.T) {
	st := store.NewInMemoryStore()
	_, otID := seedClienteOT(t, st, models.OTFinalizado)
	c := NewCommitters(st, nil, models.Empresa{}, 40)

	res, err := c.commitGenerarFactura(context.Background(), wizard.IntentGenerarFactura, map[string]string{
		"ot_id":    otID,
		"tasa_iva": "10",
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	f, err := st.GetFactura(res.EntityID)
	if err != nil {
		t.Fatalf("GetFactura failed: %v", err)
	}
	if f.TasaIVA != 10 {
		t.Errorf("TasaIVA = %v, want 10", f.TasaIVA)
	}
	if f.Totales.Total != 176 {
		t.Errorf("Total = %v, want 176", f.Totales.Total)
	}
}

func TestCommitRegistrarPago(t *testing.T) {
	st := store.NewInMemoryStore()
	_, otID := seedClienteOT(t, st, models.OTFinalizado)
	c := NewCommitters(st, nil, models.Empresa{}, 40)

	res, err := c.commitGenerarFactura(context.Background(), wizard.IntentGenerarFactura, map[string]string{
		"ot_id": otID,
	})
	if err != nil {
		t.Fatalf("factura commit failed: %v", err)
	}

	pagoRes, err := c.commitRegistrarPago(context.Background(), wizard.IntentRegistrarPago, map[string]string{
		"factura_id": res.EntityID,
		"monto":      "100",
		"metodo":     "transferencia",
	})
	if err != nil {
		t.Fatalf("pago commit failed: %v", err)
	}
	if !strings.Contains(pagoRes.Message, "Pago registrado exitosamente") {
		t.Errorf("message = %q", pagoRes.Message)
	}
	if !strings.Contains(pagoRes.Message, "Pendiente") {
		t.Errorf("partial payment message missing pending amount: %q", pagoRes.Message)
	}

	f, err := st.GetFactura(res.EntityID)
	if err != nil {
		t.Fatalf("GetFactura failed: %v", err)
	}
	if f.Estado != models.FacturaParcial {
		t.Errorf("Estado = %s, want parcial", f.Estado)
	}
}

func TestCommitRegistrarPagoBadMetodo(t *testing.T) {
	st := store.NewInMemoryStore()
	c := NewCommitters(st, nil, models.Empresa{}, 40)
	_, err := c.commitRegistrarPago(context.Background(), wizard.IntentRegistrarPago, map[string]string{
		"factura_id": "f1",
		"monto":      "100",
		"metodo":     "bitcoin",
	})
	if !errors.Is(err, models.ErrUnknownMetodoPago) {
		t.Errorf("expected ErrUnknownMetodoPago, got %v", err)
	}
}

func TestCommitCrearOTAddsLabourLine(t *testing.T) {
	st := store.NewInMemoryStore()
	clienteID, _ := seedClienteOT(t, st, models.OTPresupuesto)
	c := NewCommitters(st, nil, models.Empresa{}, 40)

	res, err := c.commitCrearOT(context.Background(), wizard.IntentCrearOT, map[string]string{
		"cliente_id":  clienteID,
		"matricula":   "5678DEF",
		"marca":       "Renault",
		"modelo":      "Clio",
		"descripcion": "Revisión general de frenos",
		"horas":       "2.5",
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	ot, err := st.GetOT(res.EntityID)
	if err != nil {
		t.Fatalf("GetOT failed: %v", err)
	}
	if len(ot.Lineas) != 1 {
		t.Fatalf("len(Lineas) = %d, want 1 labour line", len(ot.Lineas))
	}
	if ot.Lineas[0].Subtotal != 100 {
		t.Errorf("labour subtotal = %v, want 100 (2.5h x 40)", ot.Lineas[0].Subtotal)
	}
	if ot.Estado != models.OTPresupuesto {
		t.Errorf("Estado = %s, want presupuesto", ot.Estado)
	}
}
