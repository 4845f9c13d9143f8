// Package pdf renders invoices as PDF documents.
package pdf

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/rsautomocion/tallerbot/internal/models"
)

// Layout constants, A4 portrait in millimetres.
const (
	pageMargin  = 15.0
	lineHeight  = 6.0
	tableWidth  = 180.0
	colDescW    = 90.0
	colCantW    = 20.0
	colPrecioW  = 25.0
	colDescuW   = 20.0
	colSubW     = 25.0
	totalsLabelW = 45.0
	totalsValueW = 30.0
)

// RenderFactura renders an invoice into a PDF document and returns the raw
// bytes. The layout is a classic Spanish invoice: emitter and customer fiscal
// blocks, an item table and a totals box.
func RenderFactura(f models.Factura) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.AddPage()

	// Core fonts are cp1252; translate UTF-8 input so accents survive.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	// Header: company block on the left, invoice identity on the right.
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(110, lineHeight+2, tr(f.Empresa.Nombre), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(70, lineHeight+2, tr("FACTURA "+f.Numero), "", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, line := range fiscalLines(f.Empresa) {
		pdf.CellFormat(110, lineHeight-1, tr(line), "", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetXY(125, 27)
	pdf.CellFormat(70, lineHeight-1, tr("Fecha de emisión: "+f.FechaEmision.Format("02/01/2006")), "", 1, "R", false, 0, "")
	pdf.SetX(125)
	pdf.CellFormat(70, lineHeight-1, tr("Vencimiento: "+f.FechaVencimiento.Format("02/01/2006")), "", 1, "R", false, 0, "")
	if f.Serie != "" {
		pdf.SetX(125)
		pdf.CellFormat(70, lineHeight-1, tr("Serie: "+f.Serie), "", 1, "R", false, 0, "")
	}

	// Customer block.
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(tableWidth, lineHeight, tr("Datos del cliente"), "B", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	for _, line := range fiscalLines(f.Cliente) {
		pdf.CellFormat(tableWidth, lineHeight-1, tr(line), "", 1, "L", false, 0, "")
	}

	// Item table.
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(colDescW, lineHeight, tr("Descripción"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(colCantW, lineHeight, tr("Cant."), "1", 0, "R", true, 0, "")
	pdf.CellFormat(colPrecioW, lineHeight, tr("Precio"), "1", 0, "R", true, 0, "")
	pdf.CellFormat(colDescuW, lineHeight, tr("Dto. %"), "1", 0, "R", true, 0, "")
	pdf.CellFormat(colSubW, lineHeight, tr("Importe"), "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, it := range f.Items {
		desc := it.Descripcion
		if it.Referencia != "" {
			desc += " (ref. " + it.Referencia + ")"
		}
		pdf.CellFormat(colDescW, lineHeight, tr(desc), "1", 0, "L", false, 0, "")
		pdf.CellFormat(colCantW, lineHeight, formatCantidad(it.Cantidad), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colPrecioW, lineHeight, formatEuros(it.PrecioUnitario), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colDescuW, lineHeight, formatCantidad(it.DescuentoPorcentaje), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colSubW, lineHeight, formatEuros(it.Subtotal), "1", 1, "R", false, 0, "")
	}

	// Totals box, right-aligned under the table.
	pdf.Ln(4)
	totals := []struct {
		label string
		value float64
	}{
		{"Subtotal", f.Totales.Subtotal},
		{"Descuento", f.Totales.DescuentoTotal},
		{"Base imponible", f.Totales.BaseImponible},
		{fmt.Sprintf("IVA (%s%%)", formatCantidad(f.TasaIVA)), f.Totales.IVATotal},
	}
	for _, row := range totals {
		pdf.SetX(pageMargin + tableWidth - totalsLabelW - totalsValueW)
		pdf.SetFont("Helvetica", "", 9)
		pdf.CellFormat(totalsLabelW, lineHeight, tr(row.label), "", 0, "R", false, 0, "")
		pdf.CellFormat(totalsValueW, lineHeight, formatEuros(row.value), "", 1, "R", false, 0, "")
	}
	pdf.SetX(pageMargin + tableWidth - totalsLabelW - totalsValueW)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(totalsLabelW, lineHeight+1, tr("TOTAL"), "T", 0, "R", false, 0, "")
	pdf.CellFormat(totalsValueW, lineHeight+1, formatEuros(f.Totales.Total), "T", 1, "R", false, 0, "")

	if f.Observaciones != "" {
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(tableWidth, lineHeight, tr("Observaciones"), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(tableWidth, lineHeight-1, tr(f.Observaciones), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		slog.Error("Failed to render factura PDF", "error", err, "numero", f.Numero)
		return nil, fmt.Errorf("failed to render factura %s: %w", f.Numero, err)
	}
	slog.Debug("Factura PDF rendered", "numero", f.Numero, "bytes", buf.Len())
	return buf.Bytes(), nil
}

// fiscalLines flattens a fiscal data block into the printable lines, skipping
// empty fields.
func fiscalLines(d models.DatosFiscales) []string {
	lines := []string{d.Nombre, "NIF: " + d.NIF, d.Direccion}
	if d.Ciudad != "" {
		lines = append(lines, d.Ciudad)
	}
	var contact []string
	if d.Telefono != "" {
		contact = append(contact, "Tel. "+d.Telefono)
	}
	if d.Email != "" {
		contact = append(contact, d.Email)
	}
	if len(contact) > 0 {
		lines = append(lines, strings.Join(contact, " - "))
	}
	return lines
}

func formatEuros(v float64) string {
	return strings.Replace(fmt.Sprintf("%.2f EUR", v), ".", ",", 1)
}

func formatCantidad(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimSuffix(s, "0")
	s = strings.TrimSuffix(s, "0")
	s = strings.TrimSuffix(s, ".")
	return strings.Replace(s, ".", ",", 1)
}
