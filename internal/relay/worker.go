package relay

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zudduz/cscratch-dg/internal/engine"
	"github.com/zudduz/cscratch-dg/internal/types"
)

// maxLoggedBody caps rejection bodies in log output.
const maxLoggedBody = 512

// EngineClient is the slice of the engine client the worker consumes.
type EngineClient interface {
	Post(ctx context.Context, kind string, payload any) (*engine.Result, error)
}

// ticketResolver is the slice of the tracker the worker consumes.
type ticketResolver interface {
	Resolve(t *Ticket, outcome DeliveryOutcome)
}

// Worker performs the actual delivery of one event to the Engine, off the
// gateway's critical path: bounded retries with exponential backoff, terminal
// outcome classification, and exactly one acknowledgment resolution for
// interactive events.
type Worker struct {
	engine      EngineClient
	tracker     ticketResolver
	logger      types.Logger
	maxAttempts int
	delayUnit   time.Duration
	sleep       func(time.Duration)
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithSleepFunc overrides the inter-retry sleep. Intended for tests.
func WithSleepFunc(fn func(time.Duration)) WorkerOption {
	return func(w *Worker) { w.sleep = fn }
}

// WithDelayUnit overrides the backoff time unit (one second in production).
func WithDelayUnit(d time.Duration) WorkerOption {
	return func(w *Worker) { w.delayUnit = d }
}

// NewWorker creates a delivery worker.
func NewWorker(ec EngineClient, tracker ticketResolver, maxAttempts int, logger types.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		engine:      ec,
		tracker:     tracker,
		logger:      logger,
		maxAttempts: maxAttempts,
		delayUnit:   time.Second,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Deliver runs the attempt loop for one event and returns its terminal
// outcome. Classification per attempt:
//   - any HTTP response, success or rejection, ends the loop as Delivered
//     (a rejection is the Engine's decision and is logged, never retried)
//   - a transport failure retries with 2^n backoff until attempts run out
//     (Exhausted)
//   - anything else aborts immediately (Aborted)
//
// If the event carries an acknowledgment ticket, it is resolved exactly once
// after the loop exits, whatever the outcome.
func (w *Worker) Deliver(ctx context.Context, ev *Event) DeliveryOutcome {
	deliveryID := uuid.New().String()[:8]
	logger := w.logger.With("delivery_id", deliveryID, "kind", string(ev.Kind))

	outcome := w.attemptLoop(ctx, ev, logger)

	if ev.Ticket != nil {
		w.tracker.Resolve(ev.Ticket, outcome)
	}
	return outcome
}

func (w *Worker) attemptLoop(ctx context.Context, ev *Event, logger types.Logger) DeliveryOutcome {
	payload := buildPayload(ev)

	for attempt := 1; ; attempt++ {
		res, err := w.engine.Post(ctx, string(ev.Kind), payload)

		if err == nil {
			if res.Accepted() {
				logger.Info("event delivered",
					"status", res.StatusCode,
					"attempt", attempt,
				)
			} else {
				logger.Error("engine rejected event",
					"status", res.StatusCode,
					"body", truncate(res.Body, maxLoggedBody),
					"attempt", attempt,
				)
			}
			return OutcomeDelivered
		}

		if types.CodeOf(err) != types.ErrCodeTransport {
			logger.Error("delivery aborted",
				"attempt", attempt,
				"error", err.Error(),
			)
			return OutcomeAborted
		}

		if attempt >= w.maxAttempts {
			logger.Error("delivery exhausted after transport failures",
				"attempts", attempt,
				"error", err.Error(),
			)
			return OutcomeExhausted
		}

		delay := w.backoff(attempt)
		logger.Warn("transport failure, retrying",
			"attempt", attempt,
			"max_attempts", w.maxAttempts,
			"backoff", delay.String(),
			"error", err.Error(),
		)
		w.sleep(delay)
	}
}

// backoff returns the delay before attempt n+1: 2^n time units (2, 4, 8...).
func (w *Worker) backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * w.delayUnit
}

// Engine ingress wire bodies. Field layout is the contract with the Engine;
// guild_id is null (not absent) for direct messages.

type messageBody struct {
	GuildID   *string `json:"guild_id"`
	ChannelID string  `json:"channel_id"`
	UserID    string  `json:"user_id"`
	UserName  string  `json:"user_name"`
	Content   string  `json:"content"`
	MessageID string  `json:"message_id"`
}

type commandContext struct {
	GuildID          *string `json:"guild_id"`
	ChannelID        string  `json:"channel_id"`
	UserID           string  `json:"user_id"`
	UserName         string  `json:"user_name"`
	InteractionToken string  `json:"interaction_token"`
	ApplicationID    string  `json:"application_id"`
}

type commandBody struct {
	Command string         `json:"command"`
	Context commandContext `json:"context"`
	Params  map[string]any `json:"params"`
}

type componentBody struct {
	Type             string   `json:"type"`
	CustomID         string   `json:"custom_id"`
	GuildID          *string  `json:"guild_id"`
	ChannelID        string   `json:"channel_id"`
	UserID           string   `json:"user_id"`
	UserName         string   `json:"user_name"`
	Values           []string `json:"values"`
	InteractionToken string   `json:"interaction_token"`
	ApplicationID    string   `json:"application_id"`
}

// buildPayload serializes the event context and payload — plus, for
// interactive events, the live interaction token and application ID — into
// the Engine's ingress body for the event's kind.
func buildPayload(ev *Event) any {
	gid := nullableID(ev.Context.GuildID)

	switch ev.Kind {
	case KindCommand:
		body := commandBody{
			Command: ev.Command.Command,
			Context: commandContext{
				GuildID:   gid,
				ChannelID: ev.Context.ChannelID,
				UserID:    ev.Context.UserID,
				UserName:  ev.Context.UserName,
			},
			Params: ev.Command.Params,
		}
		if ev.Ticket != nil {
			body.Context.InteractionToken = ev.Ticket.Token()
			body.Context.ApplicationID = ev.Ticket.ApplicationID()
		}
		return body

	case KindComponent:
		body := componentBody{
			Type:      "component",
			CustomID:  ev.Component.CustomID,
			GuildID:   gid,
			ChannelID: ev.Context.ChannelID,
			UserID:    ev.Context.UserID,
			UserName:  ev.Context.UserName,
			Values:    ev.Component.Values,
		}
		if ev.Ticket != nil {
			body.InteractionToken = ev.Ticket.Token()
			body.ApplicationID = ev.Ticket.ApplicationID()
		}
		return body

	default:
		return messageBody{
			GuildID:   gid,
			ChannelID: ev.Context.ChannelID,
			UserID:    ev.Context.UserID,
			UserName:  ev.Context.UserName,
			Content:   ev.Message.Content,
			MessageID: ev.Message.MessageID,
		}
	}
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
