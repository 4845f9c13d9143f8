// Package store provides storage backends for TallerBot.
//
// It defines the repository contract for clientes, órdenes de trabajo,
// facturas and pagos, with SQLite and PostgreSQL implementations plus an
// in-memory store for tests.
package store

import (
	"strings"
	"time"

	"github.com/rsautomocion/tallerbot/internal/models"
)

// Store is the persistence contract consumed by the bot, the wizard
// committers and the REST API. All create operations are atomic from the
// caller's point of view.
type Store interface {
	CreateCliente(c models.Cliente) error
	GetCliente(clienteID string) (*models.Cliente, error)
	GetClienteByNIF(nif string) (*models.Cliente, error)
	SearchClientes(query string, limit int) ([]models.Cliente, error)
	ListClientes(offset, limit int) ([]models.Cliente, int, error)
	UpdateCliente(c models.Cliente) error
	DeactivateCliente(clienteID string) error

	CreateOT(ot models.OrdenTrabajo) error
	GetOT(otID string) (*models.OrdenTrabajo, error)
	ListOTs(offset, limit int) ([]models.OrdenTrabajo, error)
	UpdateOTEstado(otID string, estado models.EstadoOT, when time.Time) error
	AddLineaOT(otID string, linea models.LineaOT) error

	CreateFactura(f models.Factura) error
	GetFactura(facturaID string) (*models.Factura, error)
	ListFacturas(offset, limit int) ([]models.Factura, error)
	NextNumeroFactura(year int) (string, error)
	MarkFacturasVencidas(asOf time.Time) (int, error)
	SetFacturaDocumentoURL(facturaID, url string) error

	RegistrarPago(p models.Pago) (*models.Factura, error)
	ListPagosByFactura(facturaID string) ([]models.Pago, error)

	Resumen() (*models.Resumen, error)

	Close() error
}

// Opts holds configuration options for building a store.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a DSN and reports "postgres" or "sqlite".
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
