// Package store provides storage backends for TallerBot.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "embed"

	"github.com/rsautomocion/tallerbot/internal/billing"
	"github.com/rsautomocion/tallerbot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateCliente(c models.Cliente) error {
	_, err := s.db.Exec(`INSERT INTO clientes (`+clienteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ClienteID, c.Nombre, c.Apellidos, c.NIF, c.Email, nilIfEmpty(c.Telefono),
		c.Direccion, nilIfEmpty(c.RazonSocial), nilIfEmpty(c.Notas), c.Estado,
		c.FechaAlta, c.CreadoEn, c.ActualizadoEn)
	if err != nil {
		if isDuplicateErr(err) {
			return models.ErrDuplicateNIF
		}
		slog.Error("SQLiteStore CreateCliente failed", "error", err, "cliente_id", c.ClienteID)
		return fmt.Errorf("failed to insert cliente: %w", err)
	}
	slog.Debug("SQLiteStore CreateCliente succeeded", "cliente_id", c.ClienteID)
	return nil
}

func (s *SQLiteStore) GetCliente(clienteID string) (*models.Cliente, error) {
	row := s.db.QueryRow(`SELECT `+clienteColumns+` FROM clientes WHERE cliente_id = ?`, clienteID)
	c, err := scanCliente(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrClienteNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetCliente failed", "error", err, "cliente_id", clienteID)
		return nil, fmt.Errorf("failed to scan cliente: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetClienteByNIF(nif string) (*models.Cliente, error) {
	row := s.db.QueryRow(`SELECT `+clienteColumns+` FROM clientes WHERE nif = ?`, strings.ToUpper(nif))
	c, err := scanCliente(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrClienteNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetClienteByNIF failed", "error", err)
		return nil, fmt.Errorf("failed to scan cliente: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) SearchClientes(query string, limit int) ([]models.Cliente, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.ErrEmptySearchQuery
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.Query(`SELECT `+clienteColumns+` FROM clientes
		WHERE estado = 'activo' AND (LOWER(nombre || ' ' || apellidos) LIKE ? OR LOWER(nif) LIKE ? OR LOWER(email) LIKE ?)
		ORDER BY apellidos, nombre LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		slog.Error("SQLiteStore SearchClientes query failed", "error", err)
		return nil, fmt.Errorf("failed to query clientes: %w", err)
	}
	defer rows.Close()
	return collectClientes(rows)
}

func (s *SQLiteStore) ListClientes(offset, limit int) ([]models.Cliente, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM clientes`).Scan(&total); err != nil {
		slog.Error("SQLiteStore ListClientes count failed", "error", err)
		return nil, 0, fmt.Errorf("failed to count clientes: %w", err)
	}
	rows, err := s.db.Query(`SELECT `+clienteColumns+` FROM clientes ORDER BY apellidos, nombre LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		slog.Error("SQLiteStore ListClientes query failed", "error", err)
		return nil, 0, fmt.Errorf("failed to query clientes: %w", err)
	}
	defer rows.Close()
	clientes, err := collectClientes(rows)
	if err != nil {
		return nil, 0, err
	}
	return clientes, total, nil
}

func (s *SQLiteStore) UpdateCliente(c models.Cliente) error {
	res, err := s.db.Exec(`UPDATE clientes SET nombre = ?, apellidos = ?, nif = ?, email = ?, telefono = ?,
		direccion = ?, razon_social = ?, notas = ?, estado = ?, actualizado_en = ? WHERE cliente_id = ?`,
		c.Nombre, c.Apellidos, c.NIF, c.Email, nilIfEmpty(c.Telefono), c.Direccion,
		nilIfEmpty(c.RazonSocial), nilIfEmpty(c.Notas), c.Estado, c.ActualizadoEn, c.ClienteID)
	if err != nil {
		if isDuplicateErr(err) {
			return models.ErrDuplicateNIF
		}
		slog.Error("SQLiteStore UpdateCliente failed", "error", err, "cliente_id", c.ClienteID)
		return fmt.Errorf("failed to update cliente: %w", err)
	}
	return requireAffected(res, models.ErrClienteNotFound)
}

func (s *SQLiteStore) DeactivateCliente(clienteID string) error {
	res, err := s.db.Exec(`UPDATE clientes SET estado = 'inactivo', actualizado_en = ? WHERE cliente_id = ?`,
		time.Now(), clienteID)
	if err != nil {
		slog.Error("SQLiteStore DeactivateCliente failed", "error", err, "cliente_id", clienteID)
		return fmt.Errorf("failed to deactivate cliente: %w", err)
	}
	return requireAffected(res, models.ErrClienteNotFound)
}

func (s *SQLiteStore) CreateOT(ot models.OrdenTrabajo) error {
	lineasJSON, err := toJSON(ot.Lineas)
	if err != nil {
		return err
	}
	totalesJSON, err := toJSON(ot.Totales)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO ordenes_trabajo (`+otColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ot.OTID, ot.ClienteID, ot.Matricula, ot.Marca, ot.Modelo, nilIfEmpty(ot.Version),
		ot.Descripcion, ot.Horas, lineasJSON, totalesJSON, ot.Estado, ot.FechaCreacion,
		nilIfZeroTime(ot.FechaAprobacion), nilIfZeroTime(ot.FechaInicio), nilIfZeroTime(ot.FechaFinalizacion))
	if err != nil {
		slog.Error("SQLiteStore CreateOT failed", "error", err, "ot_id", ot.OTID)
		return fmt.Errorf("failed to insert orden de trabajo: %w", err)
	}
	slog.Debug("SQLiteStore CreateOT succeeded", "ot_id", ot.OTID)
	return nil
}

func (s *SQLiteStore) GetOT(otID string) (*models.OrdenTrabajo, error) {
	row := s.db.QueryRow(`SELECT `+otColumns+` FROM ordenes_trabajo WHERE ot_id = ?`, otID)
	ot, err := scanOT(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrOTNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetOT failed", "error", err, "ot_id", otID)
		return nil, fmt.Errorf("failed to scan orden de trabajo: %w", err)
	}
	return ot, nil
}

func (s *SQLiteStore) ListOTs(offset, limit int) ([]models.OrdenTrabajo, error) {
	rows, err := s.db.Query(`SELECT `+otColumns+` FROM ordenes_trabajo ORDER BY fecha_creacion DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		slog.Error("SQLiteStore ListOTs query failed", "error", err)
		return nil, fmt.Errorf("failed to query ordenes de trabajo: %w", err)
	}
	defer rows.Close()
	return collectOTs(rows)
}

func (s *SQLiteStore) UpdateOTEstado(otID string, estado models.EstadoOT, when time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+otColumns+` FROM ordenes_trabajo WHERE ot_id = ?`, otID)
	ot, err := scanOT(row)
	if err == sql.ErrNoRows {
		return models.ErrOTNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to scan orden de trabajo: %w", err)
	}
	if !models.CanTransitionOT(ot.Estado, estado) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, ot.Estado, estado)
	}

	query := `UPDATE ordenes_trabajo SET estado = ? WHERE ot_id = ?`
	args := []interface{}{estado, otID}
	if col := estadoFechaColumn(estado); col != "" {
		query = `UPDATE ordenes_trabajo SET estado = ?, ` + col + ` = ? WHERE ot_id = ?`
		args = []interface{}{estado, when, otID}
	}
	if _, err := tx.Exec(query, args...); err != nil {
		slog.Error("SQLiteStore UpdateOTEstado failed", "error", err, "ot_id", otID)
		return fmt.Errorf("failed to update orden de trabajo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Info("Orden de trabajo cambió de estado", "ot_id", otID, "de", ot.Estado, "a", estado)
	return nil
}

func (s *SQLiteStore) AddLineaOT(otID string, linea models.LineaOT) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+otColumns+` FROM ordenes_trabajo WHERE ot_id = ?`, otID)
	ot, err := scanOT(row)
	if err == sql.ErrNoRows {
		return models.ErrOTNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to scan orden de trabajo: %w", err)
	}

	linea.Subtotal = billing.LineaSubtotal(linea)
	ot.Lineas = append(ot.Lineas, linea)
	ot.Totales = billing.TotalesOT(ot.Lineas)

	lineasJSON, err := toJSON(ot.Lineas)
	if err != nil {
		return err
	}
	totalesJSON, err := toJSON(ot.Totales)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE ordenes_trabajo SET lineas = ?, totales = ? WHERE ot_id = ?`,
		lineasJSON, totalesJSON, otID); err != nil {
		slog.Error("SQLiteStore AddLineaOT failed", "error", err, "ot_id", otID)
		return fmt.Errorf("failed to update orden de trabajo: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateFactura(f models.Factura) error {
	empresaJSON, err := toJSON(f.Empresa)
	if err != nil {
		return err
	}
	clienteJSON, err := toJSON(f.Cliente)
	if err != nil {
		return err
	}
	itemsJSON, err := toJSON(f.Items)
	if err != nil {
		return err
	}
	totalesJSON, err := toJSON(f.Totales)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO facturas (`+facturaColumns+`, total) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FacturaID, nilIfEmpty(f.OTID), f.ClienteID, f.Numero, f.Serie,
		f.FechaEmision, f.FechaVencimiento, empresaJSON, clienteJSON, itemsJSON,
		totalesJSON, f.TasaIVA, nilIfEmpty(f.Observaciones), f.Estado,
		f.PagadoAcumulado, nilIfEmpty(f.DocumentoURL), f.CreadoEn, f.Totales.Total)
	if err != nil {
		slog.Error("SQLiteStore CreateFactura failed", "error", err, "numero", f.Numero)
		return fmt.Errorf("failed to insert factura: %w", err)
	}
	slog.Debug("SQLiteStore CreateFactura succeeded", "factura_id", f.FacturaID, "numero", f.Numero)
	return nil
}

func (s *SQLiteStore) GetFactura(facturaID string) (*models.Factura, error) {
	row := s.db.QueryRow(`SELECT `+facturaColumns+` FROM facturas WHERE factura_id = ?`, facturaID)
	f, err := scanFactura(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrFacturaNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetFactura failed", "error", err, "factura_id", facturaID)
		return nil, fmt.Errorf("failed to scan factura: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) ListFacturas(offset, limit int) ([]models.Factura, error) {
	rows, err := s.db.Query(`SELECT `+facturaColumns+` FROM facturas ORDER BY fecha_emision DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		slog.Error("SQLiteStore ListFacturas query failed", "error", err)
		return nil, fmt.Errorf("failed to query facturas: %w", err)
	}
	defer rows.Close()
	return collectFacturas(rows)
}

func (s *SQLiteStore) NextNumeroFactura(year int) (string, error) {
	prefix := fmt.Sprintf("%d-", year)
	rows, err := s.db.Query(`SELECT numero FROM facturas WHERE numero LIKE ?`, prefix+"%")
	if err != nil {
		slog.Error("SQLiteStore NextNumeroFactura query failed", "error", err)
		return "", fmt.Errorf("failed to query numeros de factura: %w", err)
	}
	defer rows.Close()
	return nextNumero(rows, prefix, year)
}

func (s *SQLiteStore) MarkFacturasVencidas(asOf time.Time) (int, error) {
	res, err := s.db.Exec(`UPDATE facturas SET estado = 'vencido'
		WHERE estado IN ('pendiente', 'parcial') AND fecha_vencimiento < ?`, asOf)
	if err != nil {
		slog.Error("SQLiteStore MarkFacturasVencidas failed", "error", err)
		return 0, fmt.Errorf("failed to mark facturas vencidas: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) SetFacturaDocumentoURL(facturaID, url string) error {
	res, err := s.db.Exec(`UPDATE facturas SET documento_url = ? WHERE factura_id = ?`, url, facturaID)
	if err != nil {
		slog.Error("SQLiteStore SetFacturaDocumentoURL failed", "error", err, "factura_id", facturaID)
		return fmt.Errorf("failed to update factura: %w", err)
	}
	return requireAffected(res, models.ErrFacturaNotFound)
}

func (s *SQLiteStore) RegistrarPago(p models.Pago) (*models.Factura, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+facturaColumns+` FROM facturas WHERE factura_id = ?`, p.FacturaID)
	f, err := scanFactura(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrFacturaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan factura: %w", err)
	}
	if _, err := aplicarPago(f, p.Monto); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`INSERT INTO pagos (`+pagoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PagoID, p.FacturaID, p.Fecha, p.Monto, p.Metodo, nilIfEmpty(p.Referencia),
		nilIfEmpty(p.DocumentoURL), nilIfEmpty(p.Notas), p.CreadoEn); err != nil {
		slog.Error("SQLiteStore RegistrarPago insert failed", "error", err, "factura_id", p.FacturaID)
		return nil, fmt.Errorf("failed to insert pago: %w", err)
	}
	if _, err := tx.Exec(`UPDATE facturas SET estado = ?, pagado_acumulado = ? WHERE factura_id = ?`,
		f.Estado, f.PagadoAcumulado, p.FacturaID); err != nil {
		slog.Error("SQLiteStore RegistrarPago update failed", "error", err, "factura_id", p.FacturaID)
		return nil, fmt.Errorf("failed to update factura: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Info("Pago registrado", "factura_id", p.FacturaID, "monto", p.Monto, "estado", f.Estado)
	return f, nil
}

func (s *SQLiteStore) ListPagosByFactura(facturaID string) ([]models.Pago, error) {
	rows, err := s.db.Query(`SELECT `+pagoColumns+` FROM pagos WHERE factura_id = ? ORDER BY fecha`, facturaID)
	if err != nil {
		slog.Error("SQLiteStore ListPagosByFactura query failed", "error", err)
		return nil, fmt.Errorf("failed to query pagos: %w", err)
	}
	defer rows.Close()
	return collectPagos(rows)
}

func (s *SQLiteStore) Resumen() (*models.Resumen, error) {
	var r models.Resumen
	err := s.db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM ordenes_trabajo WHERE estado = 'finalizado'),
		(SELECT COUNT(*) FROM ordenes_trabajo WHERE estado IN ('presupuesto', 'aprobado', 'en_proceso')),
		(SELECT COALESCE(SUM(total), 0) FROM facturas),
		(SELECT COALESCE(SUM(pagado_acumulado), 0) FROM facturas),
		(SELECT COALESCE(SUM(total - pagado_acumulado), 0) FROM facturas WHERE estado != 'pagado'),
		(SELECT COUNT(*) FROM facturas WHERE estado = 'vencido')`).Scan(
		&r.OTCompletadas, &r.OTPendientes, &r.IngresosBrutos, &r.IngresosNetos,
		&r.PagosPendientes, &r.FacturasVencidas)
	if err != nil {
		slog.Error("SQLiteStore Resumen query failed", "error", err)
		return nil, fmt.Errorf("failed to query resumen: %w", err)
	}
	r.IngresosBrutos = billing.RoundCents(r.IngresosBrutos)
	r.IngresosNetos = billing.RoundCents(r.IngresosNetos)
	r.PagosPendientes = billing.RoundCents(r.PagosPendientes)
	return &r, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// estadoFechaColumn maps a target estado to the timestamp column recorded on
// that transition. Cancellation keeps no timestamp.
func estadoFechaColumn(estado models.EstadoOT) string {
	switch estado {
	case models.OTAprobado:
		return "fecha_aprobacion"
	case models.OTEnProceso:
		return "fecha_inicio"
	case models.OTFinalizado:
		return "fecha_finalizacion"
	default:
		return ""
	}
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// nextNumero computes the next sequential invoice number for a year from the
// already issued numeros (format "YYYY-NNN").
func nextNumero(rows *sql.Rows, prefix string, year int) (string, error) {
	max := 0
	for rows.Next() {
		var numero string
		if err := rows.Scan(&numero); err != nil {
			return "", fmt.Errorf("failed to scan numero: %w", err)
		}
		n, err := strconv.Atoi(strings.TrimPrefix(numero, prefix))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to iterate numeros: %w", err)
	}
	return fmt.Sprintf("%d-%03d", year, max+1), nil
}

func collectClientes(rows *sql.Rows) ([]models.Cliente, error) {
	var out []models.Cliente
	for rows.Next() {
		c, err := scanCliente(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cliente row: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cliente rows: %w", err)
	}
	return out, nil
}

func collectOTs(rows *sql.Rows) ([]models.OrdenTrabajo, error) {
	var out []models.OrdenTrabajo
	for rows.Next() {
		ot, err := scanOT(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan orden de trabajo row: %w", err)
		}
		out = append(out, *ot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orden de trabajo rows: %w", err)
	}
	return out, nil
}

func collectFacturas(rows *sql.Rows) ([]models.Factura, error) {
	var out []models.Factura
	for rows.Next() {
		f, err := scanFactura(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan factura row: %w", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate factura rows: %w", err)
	}
	return out, nil
}

func collectPagos(rows *sql.Rows) ([]models.Pago, error) {
	var out []models.Pago
	for rows.Next() {
		p, err := scanPago(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pago row: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pago rows: %w", err)
	}
	return out, nil
}
