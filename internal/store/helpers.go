package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rsautomocion/tallerbot/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows so the scan helpers below can
// serve both backends.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZeroTime returns nil for a nil time pointer.
func nilIfZeroTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func toJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return string(raw), nil
}

func fromJSON(data string, v interface{}) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	return nil
}

// isDuplicateErr reports whether a driver error comes from a unique
// constraint violation (NIF or numero collisions).
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

const clienteColumns = `cliente_id, nombre, apellidos, nif, email, telefono, direccion, razon_social, notas, estado, fecha_alta, creado_en, actualizado_en`

func scanCliente(rs rowScanner) (*models.Cliente, error) {
	var c models.Cliente
	var telefono, razonSocial, notas sql.NullString
	err := rs.Scan(
		&c.ClienteID, &c.Nombre, &c.Apellidos, &c.NIF, &c.Email, &telefono,
		&c.Direccion, &razonSocial, &notas, &c.Estado, &c.FechaAlta,
		&c.CreadoEn, &c.ActualizadoEn,
	)
	if err != nil {
		return nil, err
	}
	c.Telefono = telefono.String
	c.RazonSocial = razonSocial.String
	c.Notas = notas.String
	return &c, nil
}

const otColumns = `ot_id, cliente_id, matricula, marca, modelo, version, descripcion, horas, lineas, totales, estado, fecha_creacion, fecha_aprobacion, fecha_inicio, fecha_finalizacion`

func scanOT(rs rowScanner) (*models.OrdenTrabajo, error) {
	var ot models.OrdenTrabajo
	var version sql.NullString
	var lineasJSON, totalesJSON string
	var aprobacion, inicio, finalizacion sql.NullTime
	err := rs.Scan(
		&ot.OTID, &ot.ClienteID, &ot.Matricula, &ot.Marca, &ot.Modelo, &version,
		&ot.Descripcion, &ot.Horas, &lineasJSON, &totalesJSON, &ot.Estado,
		&ot.FechaCreacion, &aprobacion, &inicio, &finalizacion,
	)
	if err != nil {
		return nil, err
	}
	ot.Version = version.String
	if err := fromJSON(lineasJSON, &ot.Lineas); err != nil {
		return nil, err
	}
	if err := fromJSON(totalesJSON, &ot.Totales); err != nil {
		return nil, err
	}
	if aprobacion.Valid {
		ot.FechaAprobacion = &aprobacion.Time
	}
	if inicio.Valid {
		ot.FechaInicio = &inicio.Time
	}
	if finalizacion.Valid {
		ot.FechaFinalizacion = &finalizacion.Time
	}
	return &ot, nil
}

const facturaColumns = `factura_id, ot_id, cliente_id, numero, serie, fecha_emision, fecha_vencimiento, empresa, cliente, items, totales, tasa_iva, observaciones, estado, pagado_acumulado, documento_url, creado_en`

func scanFactura(rs rowScanner) (*models.Factura, error) {
	var f models.Factura
	var otID, observaciones, documentoURL sql.NullString
	var empresaJSON, clienteJSON, itemsJSON, totalesJSON string
	err := rs.Scan(
		&f.FacturaID, &otID, &f.ClienteID, &f.Numero, &f.Serie,
		&f.FechaEmision, &f.FechaVencimiento, &empresaJSON, &clienteJSON,
		&itemsJSON, &totalesJSON, &f.TasaIVA, &observaciones, &f.Estado,
		&f.PagadoAcumulado, &documentoURL, &f.CreadoEn,
	)
	if err != nil {
		return nil, err
	}
	f.OTID = otID.String
	f.Observaciones = observaciones.String
	f.DocumentoURL = documentoURL.String
	if err := fromJSON(empresaJSON, &f.Empresa); err != nil {
		return nil, err
	}
	if err := fromJSON(clienteJSON, &f.Cliente); err != nil {
		return nil, err
	}
	if err := fromJSON(itemsJSON, &f.Items); err != nil {
		return nil, err
	}
	if err := fromJSON(totalesJSON, &f.Totales); err != nil {
		return nil, err
	}
	return &f, nil
}

const pagoColumns = `pago_id, factura_id, fecha, monto, metodo, referencia, documento_url, notas, creado_en`

func scanPago(rs rowScanner) (*models.Pago, error) {
	var p models.Pago
	var referencia, documentoURL, notas sql.NullString
	err := rs.Scan(
		&p.PagoID, &p.FacturaID, &p.Fecha, &p.Monto, &p.Metodo,
		&referencia, &documentoURL, &notas, &p.CreadoEn,
	)
	if err != nil {
		return nil, err
	}
	p.Referencia = referencia.String
	p.DocumentoURL = documentoURL.String
	p.Notas = notas.String
	return &p, nil
}

// aplicarPago mutates a factura with a new payment and returns the estado it
// should move to. Shared by every backend so the rules stay in one place.
func aplicarPago(f *models.Factura, monto float64) (models.EstadoFactura, error) {
	if f.Estado == models.FacturaPagada {
		return "", models.ErrFacturaYaPagada
	}
	if f.Totales.Total <= 0 {
		return "", models.ErrFacturaSinImportes
	}
	if monto > f.Pendiente()+0.005 {
		return "", models.ErrMontoExcedeDeuda
	}
	f.PagadoAcumulado += monto
	if f.PagadoAcumulado >= f.Totales.Total-0.005 {
		f.Estado = models.FacturaPagada
	} else {
		f.Estado = models.FacturaParcial
	}
	return f.Estado, nil
}
