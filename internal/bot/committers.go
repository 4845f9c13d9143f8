package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rsautomocion/tallerbot/internal/billing"
	"github.com/rsautomocion/tallerbot/internal/models"
	"github.com/rsautomocion/tallerbot/internal/pdf"
	"github.com/rsautomocion/tallerbot/internal/storage"
	"github.com/rsautomocion/tallerbot/internal/store"
	"github.com/rsautomocion/tallerbot/internal/wizard"
)

// searchResultLimit caps the customers returned by the search wizard.
const searchResultLimit = 5

// Committers binds every wizard intent to its persistence operation.
type Committers struct {
	store      store.Store
	uploader   storage.Uploader
	empresa    models.Empresa
	tarifaHora float64
	now        func() time.Time
}

// NewCommitters creates the committer set. uploader may be nil, in which case
// invoices are created without a PDF document.
func NewCommitters(st store.Store, uploader storage.Uploader, empresa models.Empresa, tarifaHora float64) *Committers {
	return &Committers{
		store:      st,
		uploader:   uploader,
		empresa:    empresa,
		tarifaHora: tarifaHora,
		now:        time.Now,
	}
}

// Bindings returns the intent-to-committer map consumed by the wizard engine.
func (c *Committers) Bindings() map[wizard.Intent]wizard.Committer {
	return map[wizard.Intent]wizard.Committer{
		wizard.IntentCrearCliente:   wizard.CommitterFunc(c.commitCrearCliente),
		wizard.IntentCrearOT:        wizard.CommitterFunc(c.commitCrearOT),
		wizard.IntentGenerarFactura: wizard.CommitterFunc(c.commitGenerarFactura),
		wizard.IntentRegistrarPago:  wizard.CommitterFunc(c.commitRegistrarPago),
		wizard.IntentBuscarCliente:  wizard.CommitterFunc(c.commitBuscarCliente),
	}
}

func (c *Committers) commitCrearCliente(ctx context.Context, _ wizard.Intent, payload map[string]string) (*wizard.CommitResult, error) {
	now := c.now()
	cliente := models.Cliente{
		ClienteID:     uuid.NewString(),
		Nombre:        payload["nombre"],
		Apellidos:     payload["apellidos"],
		NIF:           payload["nif"],
		Email:         payload["email"],
		Direccion:     payload["direccion"],
		Estado:        models.ClienteActivo,
		FechaAlta:     now,
		CreadoEn:      now,
		ActualizadoEn: now,
	}
	if err := c.store.CreateCliente(cliente); err != nil {
		return nil, err
	}

	msg := "✅ Cliente guardado exitosamente\n\n" +
		"👤 " + cliente.NombreCompleto() + "\n" +
		"🆔 ID: " + cliente.ClienteID + "\n" +
		"🆔 NIF: " + cliente.NIF + "\n" +
		"📧 Email: " + cliente.Email
	return &wizard.CommitResult{EntityID: cliente.ClienteID, Message: msg}, nil
}

func (c *Committers) commitCrearOT(ctx context.Context, _ wizard.Intent, payload map[string]string) (*wizard.CommitResult, error) {
	cliente, err := c.store.GetCliente(payload["cliente_id"])
	if err != nil {
		return nil, err
	}

	horas, err := strconv.ParseFloat(payload["horas"], 64)
	if err != nil {
		return nil, fmt.Errorf("horas no numéricas: %w", err)
	}

	ot := models.OrdenTrabajo{
		OTID:          uuid.NewString(),
		ClienteID:     cliente.ClienteID,
		Matricula:     payload["matricula"],
		Marca:         payload["marca"],
		Modelo:        payload["modelo"],
		Descripcion:   payload["descripcion"],
		Horas:         horas,
		Estado:        models.OTPresupuesto,
		FechaCreacion: c.now(),
	}
	if err := c.store.CreateOT(ot); err != nil {
		return nil, err
	}

	// Seed the budget with a labour line at the shop's hourly rate.
	if c.tarifaHora > 0 {
		linea := models.LineaOT{
			Tipo:           models.LineaManoObra,
			Descripcion:    "Mano de obra",
			Cantidad:       horas,
			PrecioUnitario: c.tarifaHora,
			IVAPorcentaje:  billing.DefaultTasaIVA,
		}
		if err := c.store.AddLineaOT(ot.OTID, linea); err != nil {
			slog.Error("Failed to add initial labour line", "error", err, "ot_id", ot.OTID)
		}
	}

	msg := "✅ Orden de Trabajo creada exitosamente\n\n" +
		"🔧 OT-" + shortID(ot.OTID) + "\n" +
		"🆔 ID: " + ot.OTID + "\n" +
		"🚗 Vehículo: " + ot.Marca + " " + ot.Modelo + "\n" +
		"🚘 Matrícula: " + ot.Matricula + "\n" +
		"⏱️ Horas: " + formatNum(horas) + "h\n" +
		"📊 Estado: " + string(ot.Estado)
	return &wizard.CommitResult{EntityID: ot.OTID, Message: msg}, nil
}

func (c *Committers) commitGenerarFactura(ctx context.Context, _ wizard.Intent, payload map[string]string) (*wizard.CommitResult, error) {
	ot, err := c.store.GetOT(payload["ot_id"])
	if err != nil {
		return nil, err
	}
	if ot.Estado != models.OTFinalizado {
		return nil, models.ErrOTNotFinalizada
	}
	cliente, err := c.store.GetCliente(ot.ClienteID)
	if err != nil {
		return nil, err
	}

	tasa := billing.DefaultTasaIVA
	if raw := payload["tasa_iva"]; raw != "" {
		if v, perr := strconv.ParseFloat(raw, 64); perr == nil {
			tasa = v
		}
	}

	items := make([]models.ItemFactura, 0, len(ot.Lineas))
	for _, l := range ot.Lineas {
		items = append(items, models.ItemFactura{
			Descripcion:         l.Descripcion,
			Cantidad:            l.Cantidad,
			PrecioUnitario:      l.PrecioUnitario,
			DescuentoPorcentaje: l.DescuentoPorcentaje,
			Subtotal:            l.Subtotal,
		})
	}
	if len(items) == 0 {
		return nil, models.ErrFacturaSinImportes
	}
	totales := billing.TotalesFactura(items, tasa)

	now := c.now()
	numero, err := c.store.NextNumeroFactura(now.Year())
	if err != nil {
		return nil, err
	}

	factura := models.Factura{
		FacturaID:        uuid.NewString(),
		OTID:             ot.OTID,
		ClienteID:        cliente.ClienteID,
		Numero:           numero,
		Serie:            "R&S",
		FechaEmision:     now,
		FechaVencimiento: now.AddDate(0, 0, billing.VencimientoDias),
		Empresa: models.DatosFiscales{
			Nombre:    c.empresa.Nombre,
			NIF:       c.empresa.NIF,
			Direccion: c.empresa.Direccion,
			Ciudad:    c.empresa.Ciudad,
			Telefono:  c.empresa.Telefono,
			Email:     c.empresa.Email,
		},
		Cliente: models.DatosFiscales{
			Nombre:    cliente.NombreCompleto(),
			NIF:       cliente.NIF,
			Direccion: cliente.Direccion,
			Telefono:  cliente.Telefono,
			Email:     cliente.Email,
		},
		Items:         items,
		Totales:       totales,
		TasaIVA:       tasa,
		Observaciones: payload["observaciones"],
		Estado:        models.FacturaPendiente,
		CreadoEn:      now,
	}
	if err := c.store.CreateFactura(factura); err != nil {
		return nil, err
	}

	// The PDF is best-effort: an upload failure must not undo the invoice.
	var documentoURL string
	if c.uploader != nil {
		raw, rerr := pdf.RenderFactura(factura)
		if rerr != nil {
			slog.Error("Failed to render factura PDF", "error", rerr, "numero", numero)
		} else {
			name := "factura_" + numero + ".pdf"
			url, uerr := c.uploader.Upload(ctx, name, raw, "application/pdf")
			if uerr != nil {
				slog.Error("Failed to upload factura PDF", "error", uerr, "numero", numero)
			} else if serr := c.store.SetFacturaDocumentoURL(factura.FacturaID, url); serr != nil {
				slog.Error("Failed to store factura document URL", "error", serr, "numero", numero)
			} else {
				documentoURL = url
			}
		}
	}

	msg := "✅ Factura generada exitosamente\n\n" +
		"💰 Factura " + numero + "\n" +
		"👤 Cliente: " + cliente.NombreCompleto() + "\n" +
		"💶 Total: " + formatEuros(totales.Total) + "\n" +
		"📅 Vencimiento: " + factura.FechaVencimiento.Format("02/01/2006")
	if documentoURL != "" {
		msg += "\n📄 PDF: " + documentoURL
	}
	return &wizard.CommitResult{EntityID: factura.FacturaID, Message: msg}, nil
}

func (c *Committers) commitRegistrarPago(ctx context.Context, _ wizard.Intent, payload map[string]string) (*wizard.CommitResult, error) {
	monto, err := strconv.ParseFloat(payload["monto"], 64)
	if err != nil {
		return nil, fmt.Errorf("monto no numérico: %w", err)
	}
	metodo := models.MetodoPago(payload["metodo"])
	if !models.IsValidMetodoPago(metodo) {
		return nil, models.ErrUnknownMetodoPago
	}

	now := c.now()
	pago := models.Pago{
		PagoID:     uuid.NewString(),
		FacturaID:  payload["factura_id"],
		Fecha:      now,
		Monto:      monto,
		Metodo:     metodo,
		Referencia: payload["referencia"],
		CreadoEn:   now,
	}
	factura, err := c.store.RegistrarPago(pago)
	if err != nil {
		return nil, err
	}

	msg := "✅ Pago registrado exitosamente\n\n" +
		"💰 Factura " + factura.Numero + "\n" +
		"💶 Importe: " + formatEuros(monto) + "\n" +
		"📊 Estado: " + string(factura.Estado)
	if factura.Estado != models.FacturaPagada {
		msg += "\n⚠️ Pendiente: " + formatEuros(factura.Pendiente())
	}
	return &wizard.CommitResult{EntityID: pago.PagoID, Message: msg}, nil
}

func (c *Committers) commitBuscarCliente(ctx context.Context, _ wizard.Intent, payload map[string]string) (*wizard.CommitResult, error) {
	clientes, err := c.store.SearchClientes(payload["query"], searchResultLimit)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("🔍 Resultados de Búsqueda\n\n")
	if len(clientes) == 0 {
		b.WriteString("❌ No se encontraron clientes con ese criterio.")
	} else {
		for i, cl := range clientes {
			fmt.Fprintf(&b, "%d. %s\n", i+1, cl.NombreCompleto())
			fmt.Fprintf(&b, "   🆔 ID: %s\n", cl.ClienteID)
			fmt.Fprintf(&b, "   🆔 NIF: %s\n", cl.NIF)
			fmt.Fprintf(&b, "   📞 Tel: %s\n\n", orNA(cl.Telefono))
		}
	}
	return &wizard.CommitResult{Message: strings.TrimRight(b.String(), "\n")}, nil
}
