package wizard

import "github.com/rsautomocion/tallerbot/internal/validate"

// BuiltinTemplates returns the guided flows the bot ships with. Adding a new
// flow means adding one entry here plus a committer binding; the engine does
// not change.
func BuiltinTemplates() []Template {
	return []Template{
		{
			Intent: IntentCrearCliente,
			Title:  "Nuevo Cliente",
			Steps: []FieldSpec{
				{Key: "nombre", Label: "Nombre", Prompt: "Ingresa el nombre del cliente", Kind: validate.KindNombre},
				{Key: "apellidos", Label: "Apellidos", Prompt: "Ingresa los apellidos del cliente", Kind: validate.KindNombre},
				{Key: "nif", Label: "NIF/NIE", Prompt: "Ingresa el NIF o NIE del cliente", Kind: validate.KindNIF},
				{Key: "email", Label: "Email", Prompt: "Ingresa el email del cliente", Kind: validate.KindEmail},
				{Key: "direccion", Label: "Dirección", Prompt: "Ingresa la dirección completa", Kind: validate.KindDireccion},
			},
		},
		{
			Intent: IntentCrearOT,
			Title:  "Nueva Orden de Trabajo",
			Steps: []FieldSpec{
				{Key: "cliente_id", Label: "Cliente", Prompt: "Ingresa el ID del cliente (Clientes → Buscar para obtenerlo)", Kind: validate.KindIdentificador},
				{Key: "matricula", Label: "Matrícula", Prompt: "Ingresa la matrícula del vehículo", Kind: validate.KindMatricula},
				{Key: "marca", Label: "Marca", Prompt: "Ingresa la marca del vehículo", Kind: validate.KindNombre},
				{Key: "modelo", Label: "Modelo", Prompt: "Ingresa el modelo del vehículo", Kind: validate.KindNombre},
				{Key: "descripcion", Label: "Descripción", Prompt: "Describe el trabajo a realizar", Kind: validate.KindTexto},
				{Key: "horas", Label: "Horas estimadas", Prompt: "Ingresa las horas estimadas (número)", Kind: validate.KindNumeroPositivo},
			},
		},
		{
			Intent: IntentGenerarFactura,
			Title:  "Generar Factura",
			Steps: []FieldSpec{
				{Key: "ot_id", Label: "Orden de Trabajo", Prompt: "Ingresa el ID de la OT finalizada", Kind: validate.KindIdentificador},
				{Key: "tasa_iva", Label: "Tasa de IVA (%)", Prompt: "Ingresa la tasa de IVA (o - para el 21% por defecto)", Kind: validate.KindPorcentaje, Optional: true},
				{Key: "observaciones", Label: "Observaciones", Prompt: "Observaciones para la factura (o - para omitir)", Kind: validate.KindTextoCorto, Optional: true},
			},
		},
		{
			Intent: IntentRegistrarPago,
			Title:  "Registrar Pago",
			Steps: []FieldSpec{
				{Key: "factura_id", Label: "Factura", Prompt: "Ingresa el ID de la factura", Kind: validate.KindIdentificador},
				{Key: "monto", Label: "Monto (€)", Prompt: "Ingresa el monto pagado", Kind: validate.KindNumeroPositivo},
				{Key: "metodo", Label: "Método", Prompt: "Método de pago: transferencia, efectivo, cheque, tarjeta u otro", Kind: validate.KindMetodoPago},
				{Key: "referencia", Label: "Referencia", Prompt: "Referencia del pago (o - para omitir)", Kind: validate.KindTextoCorto, Optional: true},
			},
		},
		{
			Intent: IntentBuscarCliente,
			Title:  "Buscar Cliente",
			Steps: []FieldSpec{
				{Key: "query", Label: "Búsqueda", Prompt: "Ingresa nombre, apellidos o NIF", Kind: validate.KindConsulta},
			},
		},
	}
}
