package bot

import (
	"fmt"
	"strings"

	"github.com/rsautomocion/tallerbot/internal/models"
	"github.com/rsautomocion/tallerbot/internal/wizard"
)

// Menu texts. WhatsApp has no inline keyboards, so the menus are numbered and
// the user answers with the option number.
const menuText = `🏠 Menú Principal - R&S Automoción

1. ➕ Nuevo cliente
2. 🔍 Buscar cliente
3. 📋 Lista de clientes
4. 🔧 Nueva orden de trabajo
5. 📋 Lista de OT
6. 💰 Generar factura
7. 💶 Registrar pago
8. 📊 Dashboard
9. ❓ Ayuda

Responde con el número de una opción.`

const helpText = `📖 Ayuda - R&S Automoción

Comandos disponibles:
/start - Iniciar bot y ver menú
/menu - Mostrar menú principal
/help - Ver esta ayuda
/stats - Ver estadísticas
/cancelar - Cancelar la operación en curso

Durante un formulario:
- Responde cada pregunta con el dato pedido
- Escribe "-" para omitir un campo opcional
- En la confirmación: "confirmar", "editar <campo>" o "cancelar"`

const fallbackText = `Usa /start para ver el menú principal 😊`

// menuIntents maps menu option numbers to wizard intents. Options without an
// entry are handled directly by the gateway.
var menuIntents = map[string]wizard.Intent{
	"1": wizard.IntentCrearCliente,
	"2": wizard.IntentBuscarCliente,
	"4": wizard.IntentCrearOT,
	"6": wizard.IntentGenerarFactura,
	"7": wizard.IntentRegistrarPago,
}

// renderReply turns a wizard engine reply into the outbound message text.
func renderReply(r *wizard.Reply) string {
	switch r.Kind {
	case wizard.ReplyPrompt:
		return renderPrompt(r.Prompt)
	case wizard.ReplySummary:
		return renderSummary(r.Summary)
	case wizard.ReplyResult:
		return r.Result.Message
	case wizard.ReplyCancelled:
		return "❌ Operación cancelada.\n\n" + menuText
	default:
		return fallbackText
	}
}

func renderPrompt(p *wizard.StepPrompt) string {
	var b strings.Builder
	if len(p.Errors) > 0 {
		for _, e := range p.Errors {
			b.WriteString("⚠️ " + e + "\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "📝 Paso %d de %d: %s\n", p.Step, p.Total, p.Field.Prompt)
	if p.Field.Optional {
		b.WriteString("(Campo opcional: responde \"-\" para omitir)\n")
	}
	if p.Current != "" {
		b.WriteString("Valor actual: " + p.Current + "\n")
	}
	b.WriteString("\nEscribe \"cancelar\" para salir.")
	return b.String()
}

func renderSummary(s *wizard.Summary) string {
	var b strings.Builder
	b.WriteString("📋 " + s.Title + " - Confirmación\n\n")
	for _, f := range s.Fields {
		value := f.Value
		if value == "" {
			value = "(omitido)"
		}
		fmt.Fprintf(&b, "• %s: %s\n", f.Label, value)
	}
	b.WriteString("\nResponde \"confirmar\" para guardar, \"editar <campo>\" para corregir o \"cancelar\" para salir.")
	return b.String()
}

func renderDashboard(r *models.Resumen) string {
	return "📊 Dashboard - R&S Automoción\n\n" +
		fmt.Sprintf("✅ OT Completadas: %d\n", r.OTCompletadas) +
		fmt.Sprintf("⏳ OT Pendientes: %d\n", r.OTPendientes) +
		fmt.Sprintf("💰 Ingresos Brutos: %s\n", formatEuros(r.IngresosBrutos)) +
		fmt.Sprintf("💵 Ingresos Netos: %s\n", formatEuros(r.IngresosNetos)) +
		fmt.Sprintf("⚠️ Pagos Pendientes: %s\n", formatEuros(r.PagosPendientes)) +
		fmt.Sprintf("🔴 Facturas Vencidas: %d", r.FacturasVencidas)
}

func renderClientesList(clientes []models.Cliente) string {
	var b strings.Builder
	b.WriteString("📋 Lista de Clientes\n\n")
	if len(clientes) == 0 {
		b.WriteString("No hay clientes registrados.")
		return b.String()
	}
	for i, c := range clientes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.NombreCompleto())
		fmt.Fprintf(&b, "   🆔 NIF: %s\n", c.NIF)
		fmt.Fprintf(&b, "   📞 Tel: %s\n", orNA(c.Telefono))
		fmt.Fprintf(&b, "   📧 %s\n\n", c.Email)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderOTList(ots []models.OrdenTrabajo) string {
	var b strings.Builder
	b.WriteString("📋 Lista de Órdenes de Trabajo\n\n")
	if len(ots) == 0 {
		b.WriteString("No hay OT registradas.")
		return b.String()
	}
	for i, ot := range ots {
		fmt.Fprintf(&b, "%d. OT-%s\n", i+1, shortID(ot.OTID))
		fmt.Fprintf(&b, "   🚗 Matrícula: %s\n", orNA(ot.Matricula))
		fmt.Fprintf(&b, "   🏷️ %s %s\n", orNA(ot.Marca), orNA(ot.Modelo))
		fmt.Fprintf(&b, "   📊 Estado: %s\n", ot.Estado)
		fmt.Fprintf(&b, "   📅 %s\n\n", ot.FechaCreacion.Format("02/01/2006"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// shortID returns the first 8 characters of an identifier for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatEuros(v float64) string {
	return strings.Replace(fmt.Sprintf("%.2f€", v), ".", ",", 1)
}

func formatNum(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "0"), "0")
	s = strings.TrimSuffix(s, ".")
	return strings.Replace(s, ".", ",", 1)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
