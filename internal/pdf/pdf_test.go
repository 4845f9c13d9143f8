package pdf

import (
	"bytes"
	"testing"
	"time"

	"github.com/rsautomocion/tallerbot/internal/models"
)

func sampleFactura() models.Factura {
	emision := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	return models.Factura{
		FacturaID:        "f1",
		Numero:           "2025-001",
		Serie:            "R&S",
		FechaEmision:     emision,
		FechaVencimiento: emision.AddDate(0, 0, 30),
		Empresa: models.DatosFiscales{
			Nombre:    "R&S Automoción S.L.",
			NIF:       "B12345678",
			Direccion: "Polígono Industrial Norte, Nave 7",
			Ciudad:    "28001 Madrid",
			Telefono:  "+34 910 000 000",
			Email:     "taller@rsautomocion.es",
		},
		Cliente: models.DatosFiscales{
			Nombre:    "Juan Pérez García",
			NIF:       "12345678Z",
			Direccion: "Calle Mayor 1",
		},
		Items: []models.ItemFactura{
			{Descripcion: "Mano de obra", Cantidad: 4, PrecioUnitario: 40, Subtotal: 160},
			{Descripcion: "Filtro de aceite", Referencia: "FA-102", Cantidad: 1, PrecioUnitario: 25, Subtotal: 25},
		},
		Totales: models.TotalesOT{
			Subtotal:      185,
			BaseImponible: 185,
			IVATotal:      38.85,
			Total:         223.85,
		},
		TasaIVA:       21,
		Observaciones: "Pago por transferencia a ES12 0000 0000 0000 0000 0000",
		Estado:        models.FacturaPendiente,
	}
}

func TestRenderFactura(t *testing.T) {
	raw, err := RenderFactura(sampleFactura())
	if err != nil {
		t.Fatalf("RenderFactura failed: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("%PDF")) {
		t.Errorf("output does not start with a PDF header")
	}
	if len(raw) < 1000 {
		t.Errorf("suspiciously small PDF: %d bytes", len(raw))
	}
}

func TestRenderFacturaWithoutOptionalBlocks(t *testing.T) {
	f := sampleFactura()
	f.Observaciones = ""
	f.Serie = ""
	f.Cliente.Ciudad = ""
	raw, err := RenderFactura(f)
	if err != nil {
		t.Fatalf("RenderFactura failed: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("%PDF")) {
		t.Errorf("output does not start with a PDF header")
	}
}

func TestFormatEuros(t *testing.T) {
	if got := formatEuros(1234.5); got != "1234,50 EUR" {
		t.Errorf("formatEuros = %q, want 1234,50 EUR", got)
	}
	if got := formatCantidad(21); got != "21" {
		t.Errorf("formatCantidad(21) = %q, want 21", got)
	}
	if got := formatCantidad(1.5); got != "1,5" {
		t.Errorf("formatCantidad(1.5) = %q, want 1,5", got)
	}
}
