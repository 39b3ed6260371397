package relay

import (
	"context"
	"time"

	"github.com/zudduz/cscratch-dg/internal/platform"
	"github.com/zudduz/cscratch-dg/internal/types"
)

// deferDeadline bounds the deferral call. The platform gives an interaction
// handler only a few seconds to acknowledge; past that the call cannot
// succeed anyway, so there is no point waiting longer.
const deferDeadline = 3 * time.Second

// Handler wires the gateway session's dispatch callbacks into the relay
// pipeline: normalize, then (for interactive events) begin the
// acknowledgment, then submit for asynchronous delivery.
//
// The deferral in handleCommand/handleComponent is the only blocking call on
// the gateway's hot path, and only because the platform requires the
// acknowledgment before the handler may return.
type Handler struct {
	normalizer *Normalizer
	registry   *Registry
	tracker    *Tracker
	dispatcher *Dispatcher
	logger     types.Logger
}

// NewHandler builds the event handler.
func NewHandler(normalizer *Normalizer, registry *Registry, tracker *Tracker, dispatcher *Dispatcher, logger types.Logger) *Handler {
	return &Handler{
		normalizer: normalizer,
		registry:   registry,
		tracker:    tracker,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Bind registers the handler on a gateway session.
func (h *Handler) Bind(s *platform.Session) {
	s.OnMessageCreate = h.HandleMessageCreate
	s.OnInteractionCreate = h.HandleInteractionCreate
}

// HandleMessageCreate relays a chat message. Filtered messages (bot authors,
// empty content) produce no event and no log noise.
func (h *Handler) HandleMessageCreate(m *platform.MessageCreate) {
	ev := h.normalizer.NormalizeMessage(m)
	if ev == nil {
		return
	}
	h.dispatcher.Submit(ev)
}

// HandleInteractionCreate relays a command or component interaction.
func (h *Handler) HandleInteractionCreate(ic *platform.InteractionCreate) {
	switch ic.Type {
	case platform.InteractionTypeApplicationCommand:
		h.handleCommand(ic)
	case platform.InteractionTypeMessageComponent:
		h.handleComponent(ic)
	}
}

func (h *Handler) handleCommand(ic *platform.InteractionCreate) {
	ev, spec, err := h.normalizer.NormalizeCommand(ic)
	if err != nil {
		// Unknown or malformed command: rejected before any deferral or
		// relay. Nothing downstream ever sees it.
		h.logger.Warn("command rejected",
			"interaction_id", ic.ID,
			"error", err.Error(),
		)
		return
	}

	ticket, ok := h.begin(ic, spec.Visibility)
	if !ok {
		return
	}
	ev.Ticket = ticket
	h.dispatcher.Submit(ev)
}

func (h *Handler) handleComponent(ic *platform.InteractionCreate) {
	ev := h.normalizer.NormalizeComponent(ic)

	ticket, ok := h.begin(ic, h.registry.ComponentVisibility(ev.Component.CustomID))
	if !ok {
		return
	}
	ev.Ticket = ticket
	h.dispatcher.Submit(ev)
}

// begin issues the deferral. On failure the event is abandoned entirely:
// with no acknowledgment there is no way left to show the user a result,
// so relaying would only confuse the Engine.
func (h *Handler) begin(ic *platform.InteractionCreate, visibility Visibility) (*Ticket, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), deferDeadline)
	defer cancel()

	ticket, err := h.tracker.Begin(ctx, ic, visibility)
	if err != nil {
		return nil, false
	}
	return ticket, true
}
