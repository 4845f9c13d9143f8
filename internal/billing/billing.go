// Package billing provides the monetary calculations shared by work orders,
// invoices and the dashboard: IVA, discounts, line subtotals and due dates.
// All amounts are rounded to cents.
package billing

import (
	"math"
	"time"

	"github.com/rsautomocion/tallerbot/internal/models"
)

// DefaultTasaIVA is the IVA rate applied when none is given.
const DefaultTasaIVA = 21.0

// VencimientoDias is the payment term for issued invoices.
const VencimientoDias = 30

// RoundCents rounds an amount to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// IVA computes the tax amount and the grand total for a base amount.
func IVA(base, tasa float64) (iva, total float64) {
	iva = RoundCents(base * tasa / 100)
	return iva, RoundCents(base + iva)
}

// Descuento computes the discount amount and the discounted base.
func Descuento(base, porcentaje float64) (descuento, conDescuento float64) {
	descuento = RoundCents(base * porcentaje / 100)
	return descuento, RoundCents(base - descuento)
}

// LineaSubtotal computes the discounted subtotal of one line.
func LineaSubtotal(l models.LineaOT) float64 {
	bruto := l.Cantidad * l.PrecioUnitario
	_, neto := Descuento(bruto, l.DescuentoPorcentaje)
	return neto
}

// TotalesOT aggregates line subtotals into the totals block of a work order.
func TotalesOT(lineas []models.LineaOT) models.TotalesOT {
	var t models.TotalesOT
	for _, l := range lineas {
		bruto := RoundCents(l.Cantidad * l.PrecioUnitario)
		descuento, neto := Descuento(bruto, l.DescuentoPorcentaje)
		tasa := l.IVAPorcentaje
		if tasa == 0 {
			tasa = DefaultTasaIVA
		}
		iva, _ := IVA(neto, tasa)

		t.Subtotal = RoundCents(t.Subtotal + bruto)
		t.DescuentoTotal = RoundCents(t.DescuentoTotal + descuento)
		t.BaseImponible = RoundCents(t.BaseImponible + neto)
		t.IVATotal = RoundCents(t.IVATotal + iva)
	}
	t.Total = RoundCents(t.BaseImponible + t.IVATotal)
	return t
}

// TotalesFactura recomputes invoice totals from its items at a single rate.
func TotalesFactura(items []models.ItemFactura, tasa float64) models.TotalesOT {
	var t models.TotalesOT
	for _, it := range items {
		bruto := RoundCents(it.Cantidad * it.PrecioUnitario)
		descuento, neto := Descuento(bruto, it.DescuentoPorcentaje)
		t.Subtotal = RoundCents(t.Subtotal + bruto)
		t.DescuentoTotal = RoundCents(t.DescuentoTotal + descuento)
		t.BaseImponible = RoundCents(t.BaseImponible + neto)
	}
	iva, total := IVA(t.BaseImponible, tasa)
	t.IVATotal = iva
	t.Total = total
	return t
}

// DiasPendientes returns the whole days until the due date; negative values
// mean the invoice is overdue.
func DiasPendientes(vencimiento, hoy time.Time) int {
	return int(math.Ceil(vencimiento.Sub(hoy).Hours() / 24))
}

// DiasEnProceso returns the whole days a work order has been in progress.
func DiasEnProceso(inicio *time.Time, hoy time.Time) int {
	if inicio == nil {
		return 0
	}
	d := int(math.Floor(hoy.Sub(*inicio).Hours() / 24))
	if d < 0 {
		return 0
	}
	return d
}
