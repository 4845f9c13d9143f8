// Package store provides storage backends for TallerBot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/rsautomocion/tallerbot/internal/billing"
	"github.com/rsautomocion/tallerbot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateCliente(c models.Cliente) error {
	_, err := s.db.Exec(`INSERT INTO clientes (`+clienteColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ClienteID, c.Nombre, c.Apellidos, c.NIF, c.Email, nilIfEmpty(c.Telefono),
		c.Direccion, nilIfEmpty(c.RazonSocial), nilIfEmpty(c.Notas), c.Estado,
		c.FechaAlta, c.CreadoEn, c.ActualizadoEn)
	if err != nil {
		if isDuplicateErr(err) {
			return models.ErrDuplicateNIF
		}
		slog.Error("PostgresStore CreateCliente failed", "error", err, "cliente_id", c.ClienteID)
		return fmt.Errorf("failed to insert cliente: %w", err)
	}
	slog.Debug("PostgresStore CreateCliente succeeded", "cliente_id", c.ClienteID)
	return nil
}

func (s *PostgresStore) GetCliente(clienteID string) (*models.Cliente, error) {
	row := s.db.QueryRow(`SELECT `+clienteColumns+` FROM clientes WHERE cliente_id = $1`, clienteID)
	c, err := scanCliente(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrClienteNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetCliente failed", "error", err, "cliente_id", clienteID)
		return nil, fmt.Errorf("failed to scan cliente: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetClienteByNIF(nif string) (*models.Cliente, error) {
	row := s.db.QueryRow(`SELECT `+clienteColumns+` FROM clientes WHERE nif = $1`, strings.ToUpper(nif))
	c, err := scanCliente(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrClienteNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetClienteByNIF failed", "error", err)
		return nil, fmt.Errorf("failed to scan cliente: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) SearchClientes(query string, limit int) ([]models.Cliente, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.ErrEmptySearchQuery
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.Query(`SELECT `+clienteColumns+` FROM clientes
		WHERE estado = 'activo' AND (LOWER(nombre || ' ' || apellidos) LIKE $1 OR LOWER(nif) LIKE $2 OR LOWER(email) LIKE $3)
		ORDER BY apellidos, nombre LIMIT $4`, pattern, pattern, pattern, limit)
	if err != nil {
		slog.Error("PostgresStore SearchClientes query failed", "error", err)
		return nil, fmt.Errorf("failed to query clientes: %w", err)
	}
	defer rows.Close()
	return collectClientes(rows)
}

func (s *PostgresStore) ListClientes(offset, limit int) ([]models.Cliente, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM clientes`).Scan(&total); err != nil {
		slog.Error("PostgresStore ListClientes count failed", "error", err)
		return nil, 0, fmt.Errorf("failed to count clientes: %w", err)
	}
	rows, err := s.db.Query(`SELECT `+clienteColumns+` FROM clientes ORDER BY apellidos, nombre LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		slog.Error("PostgresStore ListClientes query failed", "error", err)
		return nil, 0, fmt.Errorf("failed to query clientes: %w", err)
	}
	defer rows.Close()
	clientes, err := collectClientes(rows)
	if err != nil {
		return nil, 0, err
	}
	return clientes, total, nil
}

func (s *PostgresStore) UpdateCliente(c models.Cliente) error {
	res, err := s.db.Exec(`UPDATE clientes SET nombre = $1, apellidos = $2, nif = $3, email = $4, telefono = $5,
		direccion = $6, razon_social = $7, notas = $8, estado = $9, actualizado_en = $10 WHERE cliente_id = $11`,
		c.Nombre, c.Apellidos, c.NIF, c.Email, nilIfEmpty(c.Telefono), c.Direccion,
		nilIfEmpty(c.RazonSocial), nilIfEmpty(c.Notas), c.Estado, c.ActualizadoEn, c.ClienteID)
	if err != nil {
		if isDuplicateErr(err) {
			return models.ErrDuplicateNIF
		}
		slog.Error("PostgresStore UpdateCliente failed", "error", err, "cliente_id", c.ClienteID)
		return fmt.Errorf("failed to update cliente: %w", err)
	}
	return requireAffected(res, models.ErrClienteNotFound)
}

func (s *PostgresStore) DeactivateCliente(clienteID string) error {
	res, err := s.db.Exec(`UPDATE clientes SET estado = 'inactivo', actualizado_en = $1 WHERE cliente_id = $2`,
		time.Now(), clienteID)
	if err != nil {
		slog.Error("PostgresStore DeactivateCliente failed", "error", err, "cliente_id", clienteID)
		return fmt.Errorf("failed to deactivate cliente: %w", err)
	}
	return requireAffected(res, models.ErrClienteNotFound)
}

func (s *PostgresStore) CreateOT(ot models.OrdenTrabajo) error {
	lineasJSON, err := toJSON(ot.Lineas)
	if err != nil {
		return err
	}
	totalesJSON, err := toJSON(ot.Totales)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO ordenes_trabajo (`+otColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		ot.OTID, ot.ClienteID, ot.Matricula, ot.Marca, ot.Modelo, nilIfEmpty(ot.Version),
		ot.Descripcion, ot.Horas, lineasJSON, totalesJSON, ot.Estado, ot.FechaCreacion,
		nilIfZeroTime(ot.FechaAprobacion), nilIfZeroTime(ot.FechaInicio), nilIfZeroTime(ot.FechaFinalizacion))
	if err != nil {
		slog.Error("PostgresStore CreateOT failed", "error", err, "ot_id", ot.OTID)
		return fmt.Errorf("failed to insert orden de trabajo: %w", err)
	}
	slog.Debug("PostgresStore CreateOT succeeded", "ot_id", ot.OTID)
	return nil
}

func (s *PostgresStore) GetOT(otID string) (*models.OrdenTrabajo, error) {
	row := s.db.QueryRow(`SELECT `+otColumns+` FROM ordenes_trabajo WHERE ot_id = $1`, otID)
	ot, err := scanOT(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrOTNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetOT failed", "error", err, "ot_id", otID)
		return nil, fmt.Errorf("failed to scan orden de trabajo: %w", err)
	}
	return ot, nil
}

func (s *PostgresStore) ListOTs(offset, limit int) ([]models.OrdenTrabajo, error) {
	rows, err := s.db.Query(`SELECT `+otColumns+` FROM ordenes_trabajo ORDER BY fecha_creacion DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		slog.Error("PostgresStore ListOTs query failed", "error", err)
		return nil, fmt.Errorf("failed to query ordenes de trabajo: %w", err)
	}
	defer rows.Close()
	return collectOTs(rows)
}

func (s *PostgresStore) UpdateOTEstado(otID string, estado models.EstadoOT, when time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+otColumns+` FROM ordenes_trabajo WHERE ot_id = $1 FOR UPDATE`, otID)
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

	query := `UPDATE ordenes_trabajo SET estado = $1 WHERE ot_id = $2`
	args := []interface{}{estado, otID}
	if col := estadoFechaColumn(estado); col != "" {
		query = `UPDATE ordenes_trabajo SET estado = $1, ` + col + ` = $2 WHERE ot_id = $3`
		args = []interface{}{estado, when, otID}
	}
	if _, err := tx.Exec(query, args...); err != nil {
		slog.Error("PostgresStore UpdateOTEstado failed", "error", err, "ot_id", otID)
		return fmt.Errorf("failed to update orden de trabajo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Info("Orden de trabajo cambió de estado", "ot_id", otID, "de", ot.Estado, "a", estado)
	return nil
}

func (s *PostgresStore) AddLineaOT(otID string, linea models.LineaOT) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+otColumns+` FROM ordenes_trabajo WHERE ot_id = $1 FOR UPDATE`, otID)
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
	if _, err := tx.Exec(`UPDATE ordenes_trabajo SET lineas = $1, totales = $2 WHERE ot_id = $3`,
		lineasJSON, totalesJSON, otID); err != nil {
		slog.Error("PostgresStore AddLineaOT failed", "error", err, "ot_id", otID)
		return fmt.Errorf("failed to update orden de trabajo: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) CreateFactura(f models.Factura) error {
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
	_, err = s.db.Exec(`INSERT INTO facturas (`+facturaColumns+`, total) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		f.FacturaID, nilIfEmpty(f.OTID), f.ClienteID, f.Numero, f.Serie,
		f.FechaEmision, f.FechaVencimiento, empresaJSON, clienteJSON, itemsJSON,
		totalesJSON, f.TasaIVA, nilIfEmpty(f.Observaciones), f.Estado,
		f.PagadoAcumulado, nilIfEmpty(f.DocumentoURL), f.CreadoEn, f.Totales.Total)
	if err != nil {
		slog.Error("PostgresStore CreateFactura failed", "error", err, "numero", f.Numero)
		return fmt.Errorf("failed to insert factura: %w", err)
	}
	slog.Debug("PostgresStore CreateFactura succeeded", "factura_id", f.FacturaID, "numero", f.Numero)
	return nil
}

func (s *PostgresStore) GetFactura(facturaID string) (*models.Factura, error) {
	row := s.db.QueryRow(`SELECT `+facturaColumns+` FROM facturas WHERE factura_id = $1`, facturaID)
	f, err := scanFactura(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrFacturaNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetFactura failed", "error", err, "factura_id", facturaID)
		return nil, fmt.Errorf("failed to scan factura: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) ListFacturas(offset, limit int) ([]models.Factura, error) {
	rows, err := s.db.Query(`SELECT `+facturaColumns+` FROM facturas ORDER BY fecha_emision DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		slog.Error("PostgresStore ListFacturas query failed", "error", err)
		return nil, fmt.Errorf("failed to query facturas: %w", err)
	}
	defer rows.Close()
	return collectFacturas(rows)
}

func (s *PostgresStore) NextNumeroFactura(year int) (string, error) {
	prefix := fmt.Sprintf("%d-", year)
	rows, err := s.db.Query(`SELECT numero FROM facturas WHERE numero LIKE $1`, prefix+"%")
	if err != nil {
		slog.Error("PostgresStore NextNumeroFactura query failed", "error", err)
		return "", fmt.Errorf("failed to query numeros de factura: %w", err)
	}
	defer rows.Close()
	return nextNumero(rows, prefix, year)
}

func (s *PostgresStore) MarkFacturasVencidas(asOf time.Time) (int, error) {
	res, err := s.db.Exec(`UPDATE facturas SET estado = 'vencido'
		WHERE estado IN ('pendiente', 'parcial') AND fecha_vencimiento < $1`, asOf)
	if err != nil {
		slog.Error("PostgresStore MarkFacturasVencidas failed", "error", err)
		return 0, fmt.Errorf("failed to mark facturas vencidas: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) SetFacturaDocumentoURL(facturaID, url string) error {
	res, err := s.db.Exec(`UPDATE facturas SET documento_url = $1 WHERE factura_id = $2`, url, facturaID)
	if err != nil {
		slog.Error("PostgresStore SetFacturaDocumentoURL failed", "error", err, "factura_id", facturaID)
		return fmt.Errorf("failed to update factura: %w", err)
	}
	return requireAffected(res, models.ErrFacturaNotFound)
}

func (s *PostgresStore) RegistrarPago(p models.Pago) (*models.Factura, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+facturaColumns+` FROM facturas WHERE factura_id = $1 FOR UPDATE`, p.FacturaID)
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

	if _, err := tx.Exec(`INSERT INTO pagos (`+pagoColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.PagoID, p.FacturaID, p.Fecha, p.Monto, p.Metodo, nilIfEmpty(p.Referencia),
		nilIfEmpty(p.DocumentoURL), nilIfEmpty(p.Notas), p.CreadoEn); err != nil {
		slog.Error("PostgresStore RegistrarPago insert failed", "error", err, "factura_id", p.FacturaID)
		return nil, fmt.Errorf("failed to insert pago: %w", err)
	}
	if _, err := tx.Exec(`UPDATE facturas SET estado = $1, pagado_acumulado = $2 WHERE factura_id = $3`,
		f.Estado, f.PagadoAcumulado, p.FacturaID); err != nil {
		slog.Error("PostgresStore RegistrarPago update failed", "error", err, "factura_id", p.FacturaID)
		return nil, fmt.Errorf("failed to update factura: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Info("Pago registrado", "factura_id", p.FacturaID, "monto", p.Monto, "estado", f.Estado)
	return f, nil
}

func (s *PostgresStore) ListPagosByFactura(facturaID string) ([]models.Pago, error) {
	rows, err := s.db.Query(`SELECT `+pagoColumns+` FROM pagos WHERE factura_id = $1 ORDER BY fecha`, facturaID)
	if err != nil {
		slog.Error("PostgresStore ListPagosByFactura query failed", "error", err)
		return nil, fmt.Errorf("failed to query pagos: %w", err)
	}
	defer rows.Close()
	return collectPagos(rows)
}

func (s *PostgresStore) Resumen() (*models.Resumen, error) {
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
		slog.Error("PostgresStore Resumen query failed", "error", err)
		return nil, fmt.Errorf("failed to query resumen: %w", err)
	}
	r.IngresosBrutos = billing.RoundCents(r.IngresosBrutos)
	r.IngresosNetos = billing.RoundCents(r.IngresosNetos)
	r.PagosPendientes = billing.RoundCents(r.PagosPendientes)
	return &r, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
