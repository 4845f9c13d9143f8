// Package bot is the conversation gateway of TallerBot. It consumes incoming
// chat messages, decodes commands and menu selections, drives the wizard
// engine and renders every reply as plain Spanish text.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/rsautomocion/tallerbot/internal/messaging"
	"github.com/rsautomocion/tallerbot/internal/models"
	"github.com/rsautomocion/tallerbot/internal/store"
	"github.com/rsautomocion/tallerbot/internal/wizard"
)

// listPageSize is the number of records shown by the list screens.
const listPageSize = 10

// Bot routes incoming messages between commands, menu options and the wizard
// engine. It is safe for concurrent use as long as the wizard session store is.
type Bot struct {
	msg    messaging.Service
	engine *wizard.Engine
	store  store.Store
}

// New creates a conversation gateway.
func New(msg messaging.Service, engine *wizard.Engine, st store.Store) *Bot {
	return &Bot{
		msg:    msg,
		engine: engine,
		store:  st,
	}
}

// Run consumes incoming messages until the context is cancelled or the
// message channel closes.
func (b *Bot) Run(ctx context.Context) error {
	slog.Info("Bot message loop started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Bot message loop stopping", "reason", ctx.Err())
			return ctx.Err()
		case m, ok := <-b.msg.Messages():
			if !ok {
				slog.Info("Bot message channel closed")
				return nil
			}
			reply := b.HandleMessage(ctx, m.From, m.Body)
			if reply == "" {
				continue
			}
			if err := b.msg.SendMessage(ctx, m.From, reply); err != nil {
				slog.Error("Bot failed to send reply", "error", err, "to", m.From)
			}
		}
	}
}

// HandleMessage processes one inbound message and returns the reply text.
func (b *Bot) HandleMessage(ctx context.Context, from, body string) string {
	text := strings.TrimSpace(body)
	lower := strings.ToLower(text)
	slog.Debug("Bot handling message", "from", from, "body_length", len(text))

	switch lower {
	case "/start", "/menu":
		return menuText
	case "/help", "/ayuda":
		return helpText
	case "/stats":
		return b.dashboard()
	case "/cancelar", "cancelar":
		return b.action(ctx, from, wizard.Action{Kind: wizard.ActionCancel})
	case "confirmar", "sí", "si", "ok":
		return b.action(ctx, from, wizard.Action{Kind: wizard.ActionConfirm})
	}

	if field, ok := strings.CutPrefix(lower, "editar "); ok {
		return b.action(ctx, from, wizard.Action{Kind: wizard.ActionEdit, Field: strings.TrimSpace(field)})
	}

	// Everything else is step input while a wizard is active.
	reply, err := b.engine.HandleInput(ctx, from, text)
	if err == nil {
		return renderReply(reply)
	}
	if !errors.Is(err, wizard.ErrNoSession) {
		return b.renderError(err)
	}

	// No active wizard: interpret the text as a menu selection.
	return b.handleMenuSelection(ctx, from, lower)
}

// handleMenuSelection resolves a main menu option. Unknown input gets the
// default hint.
func (b *Bot) handleMenuSelection(ctx context.Context, from, option string) string {
	if intent, ok := menuIntents[option]; ok {
		reply, err := b.engine.Start(ctx, from, intent)
		if err != nil {
			return b.renderError(err)
		}
		return renderReply(reply)
	}

	switch option {
	case "3":
		return b.listClientes()
	case "5":
		return b.listOTs()
	case "8":
		return b.dashboard()
	case "9":
		return helpText
	default:
		return fallbackText
	}
}

// action forwards a decoded wizard action and renders the outcome.
func (b *Bot) action(ctx context.Context, from string, a wizard.Action) string {
	reply, err := b.engine.HandleAction(ctx, from, a)
	if err != nil {
		return b.renderError(err)
	}
	return renderReply(reply)
}

func (b *Bot) dashboard() string {
	resumen, err := b.store.Resumen()
	if err != nil {
		slog.Error("Bot dashboard query failed", "error", err)
		return "❌ Error obteniendo estadísticas. Intenta de nuevo."
	}
	return renderDashboard(resumen)
}

func (b *Bot) listClientes() string {
	clientes, _, err := b.store.ListClientes(0, listPageSize)
	if err != nil {
		slog.Error("Bot cliente list query failed", "error", err)
		return "❌ Error obteniendo clientes. Intenta de nuevo."
	}
	return renderClientesList(clientes)
}

func (b *Bot) listOTs() string {
	ots, err := b.store.ListOTs(0, listPageSize)
	if err != nil {
		slog.Error("Bot OT list query failed", "error", err)
		return "❌ Error obteniendo OT. Intenta de nuevo."
	}
	return renderOTList(ots)
}

// renderError maps engine and repository errors to user-facing Spanish text.
func (b *Bot) renderError(err error) string {
	var commitErr *wizard.CommitError
	switch {
	case errors.As(err, &commitErr):
		return "❌ Error: " + userMessage(commitErr.Err) +
			"\n\nPuedes responder \"confirmar\" para reintentar o \"cancelar\" para salir."
	case errors.Is(err, wizard.ErrSessionActive):
		return "⚠️ Ya tienes una operación en curso. Termínala o escribe \"cancelar\" para salir."
	case errors.Is(err, wizard.ErrNoSession):
		return fallbackText
	case errors.Is(err, wizard.ErrInvalidState):
		return "⚠️ Esa acción no está disponible ahora mismo."
	default:
		slog.Error("Bot unexpected error", "error", err)
		return "❌ Ha ocurrido un error. Intenta de nuevo con /start"
	}
}

// userMessage picks the user-facing text for a repository error. Domain
// sentinels already carry Spanish messages; anything else gets a generic one.
func userMessage(err error) string {
	for _, sentinel := range []error{
		models.ErrDuplicateNIF,
		models.ErrClienteNotFound,
		models.ErrOTNotFound,
		models.ErrFacturaNotFound,
		models.ErrOTNotFinalizada,
		models.ErrFacturaYaPagada,
		models.ErrMontoExcedeDeuda,
		models.ErrFacturaSinImportes,
	} {
		if errors.Is(err, sentinel) {
			return translateSentinel(sentinel)
		}
	}
	return "no se pudo completar la operación"
}

func translateSentinel(err error) string {
	switch err {
	case models.ErrClienteNotFound:
		return "no existe ningún cliente con ese ID"
	case models.ErrOTNotFound:
		return "no existe ninguna orden de trabajo con ese ID"
	case models.ErrFacturaNotFound:
		return "no existe ninguna factura con ese ID"
	default:
		return err.Error()
	}
}
