// Package models defines the core data structures for TallerBot.
//
// It includes the domain entities of the repair shop (clientes, órdenes de
// trabajo, facturas, pagos) and the chat event types shared across modules.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient     = errors.New("recipient cannot be empty")
	ErrEmptyBody          = errors.New("message body cannot be empty")
	ErrClienteNotFound    = errors.New("cliente not found")
	ErrOTNotFound         = errors.New("orden de trabajo not found")
	ErrFacturaNotFound    = errors.New("factura not found")
	ErrDuplicateNIF       = errors.New("este NIF ya está registrado")
	ErrInvalidTransition  = errors.New("invalid estado transition")
	ErrOTNotFinalizada    = errors.New("la OT debe estar finalizada para facturar")
	ErrFacturaYaPagada    = errors.New("la factura ya está pagada")
	ErrMontoExcedeDeuda   = errors.New("el monto excede el importe pendiente")
	ErrUnknownMetodoPago  = errors.New("método de pago desconocido")
	ErrUnknownEstado      = errors.New("estado desconocido")
	ErrEmptySearchQuery   = errors.New("search query cannot be empty")
	ErrFacturaSinImportes = errors.New("la factura no tiene importes")
)

// Message represents an incoming chat message from a user.
type Message struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// OutgoingStatus represents the delivery status of an outbound message.
type OutgoingStatus string

const (
	// OutgoingStatusSent indicates the message was handed to the transport.
	OutgoingStatusSent OutgoingStatus = "sent"
	// OutgoingStatusFailed indicates the transport rejected the message.
	OutgoingStatusFailed OutgoingStatus = "failed"
)

// Delivery records the outcome of one outbound send.
type Delivery struct {
	To     string         `json:"to"`
	Status OutgoingStatus `json:"status"`
	Time   int64          `json:"time"`
}

// EstadoCliente marks whether a customer record is active.
type EstadoCliente string

const (
	ClienteActivo   EstadoCliente = "activo"
	ClienteInactivo EstadoCliente = "inactivo"
)

// Cliente is a customer of the shop.
type Cliente struct {
	ClienteID   string        `json:"cliente_id"`
	Nombre      string        `json:"nombre"`
	Apellidos   string        `json:"apellidos"`
	NIF         string        `json:"nif"`
	Email       string        `json:"email"`
	Telefono    string        `json:"telefono,omitempty"`
	Direccion   string        `json:"direccion"`
	RazonSocial string        `json:"razon_social,omitempty"`
	Notas       string        `json:"notas,omitempty"`
	Estado      EstadoCliente `json:"estado"`
	FechaAlta   time.Time     `json:"fecha_alta"`
	CreadoEn    time.Time     `json:"creado_en"`
	ActualizadoEn time.Time   `json:"actualizado_en"`
}

// NombreCompleto returns the customer's display name.
func (c Cliente) NombreCompleto() string {
	if c.Apellidos == "" {
		return c.Nombre
	}
	return c.Nombre + " " + c.Apellidos
}

// EstadoOT tracks a work order through its lifecycle.
type EstadoOT string

const (
	OTPresupuesto EstadoOT = "presupuesto"
	OTAprobado    EstadoOT = "aprobado"
	OTEnProceso   EstadoOT = "en_proceso"
	OTFinalizado  EstadoOT = "finalizado"
	OTCancelado   EstadoOT = "cancelado"
)

// IsValidEstadoOT checks if the given work order estado is supported.
func IsValidEstadoOT(e EstadoOT) bool {
	switch e {
	case OTPresupuesto, OTAprobado, OTEnProceso, OTFinalizado, OTCancelado:
		return true
	default:
		return false
	}
}

// CanTransitionOT reports whether a work order may move from one estado to another.
// Cancellation is allowed from any non-terminal estado; the forward path is
// presupuesto → aprobado → en_proceso → finalizado.
func CanTransitionOT(from, to EstadoOT) bool {
	if !IsValidEstadoOT(from) || !IsValidEstadoOT(to) {
		return false
	}
	if to == OTCancelado {
		return from != OTFinalizado && from != OTCancelado
	}
	switch from {
	case OTPresupuesto:
		return to == OTAprobado
	case OTAprobado:
		return to == OTEnProceso
	case OTEnProceso:
		return to == OTFinalizado
	default:
		return false
	}
}

// TipoLinea classifies a work order line item.
type TipoLinea string

const (
	LineaManoObra TipoLinea = "mano_obra"
	LineaRepuesto TipoLinea = "repuesto"
	LineaOtro     TipoLinea = "otro"
)

// LineaOT is one billable line of a work order.
type LineaOT struct {
	Tipo                TipoLinea `json:"tipo"`
	Descripcion         string    `json:"descripcion"`
	Cantidad            float64   `json:"cantidad"`
	PrecioUnitario      float64   `json:"precio_unitario"`
	DescuentoPorcentaje float64   `json:"descuento_porcentaje,omitempty"`
	IVAPorcentaje       float64   `json:"iva_porcentaje"`
	Subtotal            float64   `json:"subtotal"`
}

// TotalesOT aggregates the monetary totals of a work order or invoice.
type TotalesOT struct {
	Subtotal       float64 `json:"subtotal"`
	DescuentoTotal float64 `json:"descuento_total"`
	BaseImponible  float64 `json:"base_imponible"`
	IVATotal       float64 `json:"iva_total"`
	Total          float64 `json:"total"`
}

// OrdenTrabajo is a unit of repair work tied to a vehicle and customer.
type OrdenTrabajo struct {
	OTID              string     `json:"ot_id"`
	ClienteID         string     `json:"cliente_id"`
	Matricula         string     `json:"matricula"`
	Marca             string     `json:"marca"`
	Modelo            string     `json:"modelo"`
	Version           string     `json:"version,omitempty"`
	Descripcion       string     `json:"descripcion"`
	Horas             float64    `json:"horas"`
	Lineas            []LineaOT  `json:"lineas,omitempty"`
	Totales           TotalesOT  `json:"totales"`
	Estado            EstadoOT   `json:"estado"`
	FechaCreacion     time.Time  `json:"fecha_creacion"`
	FechaAprobacion   *time.Time `json:"fecha_aprobacion,omitempty"`
	FechaInicio       *time.Time `json:"fecha_inicio,omitempty"`
	FechaFinalizacion *time.Time `json:"fecha_finalizacion,omitempty"`
}

// EstadoFactura tracks payment progress of an invoice.
type EstadoFactura string

const (
	FacturaPendiente EstadoFactura = "pendiente"
	FacturaParcial   EstadoFactura = "parcial"
	FacturaPagada    EstadoFactura = "pagado"
	FacturaVencida   EstadoFactura = "vencido"
)

// DatosFiscales is the identity block printed on an invoice, for either party.
type DatosFiscales struct {
	Nombre    string `json:"nombre"`
	NIF       string `json:"nif"`
	Direccion string `json:"direccion"`
	Ciudad    string `json:"ciudad,omitempty"`
	Telefono  string `json:"telefono,omitempty"`
	Email     string `json:"email,omitempty"`
}

// ItemFactura is one line of an invoice, copied from the work order at
// generation time so later OT edits never change an issued invoice.
type ItemFactura struct {
	Descripcion         string  `json:"descripcion"`
	Referencia          string  `json:"referencia"`
	Cantidad            float64 `json:"cantidad"`
	PrecioUnitario      float64 `json:"precio_unitario"`
	DescuentoPorcentaje float64 `json:"descuento_porcentaje,omitempty"`
	Subtotal            float64 `json:"subtotal"`
}

// Factura is an issued invoice.
type Factura struct {
	FacturaID        string        `json:"factura_id"`
	OTID             string        `json:"ot_id,omitempty"`
	ClienteID        string        `json:"cliente_id"`
	Numero           string        `json:"numero"`
	Serie            string        `json:"serie"`
	FechaEmision     time.Time     `json:"fecha_emision"`
	FechaVencimiento time.Time     `json:"fecha_vencimiento"`
	Empresa          DatosFiscales `json:"empresa"`
	Cliente          DatosFiscales `json:"cliente"`
	Items            []ItemFactura `json:"items"`
	Totales          TotalesOT     `json:"totales"`
	TasaIVA          float64       `json:"tasa_iva"`
	Observaciones    string        `json:"observaciones,omitempty"`
	Estado           EstadoFactura `json:"estado"`
	PagadoAcumulado  float64       `json:"pagado_acumulado"`
	DocumentoURL     string        `json:"documento_url,omitempty"`
	CreadoEn         time.Time     `json:"creado_en"`
}

// Pendiente returns the amount still owed on the invoice.
func (f Factura) Pendiente() float64 {
	p := f.Totales.Total - f.PagadoAcumulado
	if p < 0 {
		return 0
	}
	return p
}

// MetodoPago enumerates accepted payment methods.
type MetodoPago string

const (
	PagoTransferencia MetodoPago = "transferencia"
	PagoEfectivo      MetodoPago = "efectivo"
	PagoCheque        MetodoPago = "cheque"
	PagoTarjeta       MetodoPago = "tarjeta"
	PagoOtro          MetodoPago = "otro"
)

// IsValidMetodoPago checks if the given payment method is supported.
func IsValidMetodoPago(m MetodoPago) bool {
	switch m {
	case PagoTransferencia, PagoEfectivo, PagoCheque, PagoTarjeta, PagoOtro:
		return true
	default:
		return false
	}
}

// Pago is a payment recorded against an invoice.
type Pago struct {
	PagoID       string     `json:"pago_id"`
	FacturaID    string     `json:"factura_id"`
	Fecha        time.Time  `json:"fecha"`
	Monto        float64    `json:"monto"`
	Metodo       MetodoPago `json:"metodo"`
	Referencia   string     `json:"referencia,omitempty"`
	DocumentoURL string     `json:"documento_url,omitempty"`
	Notas        string     `json:"notas,omitempty"`
	CreadoEn     time.Time  `json:"creado_en"`
}

// Resumen holds the dashboard aggregates shown by /stats.
type Resumen struct {
	OTCompletadas   int     `json:"ot_completadas"`
	OTPendientes    int     `json:"ot_pendientes"`
	IngresosBrutos  float64 `json:"ingresos_brutos"`
	IngresosNetos   float64 `json:"ingresos_netos"`
	PagosPendientes float64 `json:"pagos_pendientes"`
	FacturasVencidas int    `json:"facturas_vencidas"`
}

// Empresa holds the shop's own fiscal data, printed on every invoice.
type Empresa struct {
	Nombre    string
	NIF       string
	Direccion string
	Ciudad    string
	Telefono  string
	Email     string
}
