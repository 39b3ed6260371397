package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/zudduz/cscratch-dg/internal/platform"
	"github.com/zudduz/cscratch-dg/internal/types"
)

// AckState is the acknowledgment lifecycle state of one interactive event.
type AckState int32

const (
	// StateDeferred: the platform confirmed the deferral; a placeholder
	// response is showing and the token window is running.
	StateDeferred AckState = iota

	// StateResolvedByEngine: delivery produced an HTTP response; the Engine
	// owns the follow-up from here.
	StateResolvedByEngine

	// StateExpiredWithdrawn: delivery gave up (exhausted or aborted) and the
	// relay closed out the placeholder itself.
	StateExpiredWithdrawn

	// StateExpiredFailed: the token window elapsed with no delivery outcome
	// at all. The Engine never responded.
	StateExpiredFailed
)

// withdrawTimeout bounds the platform call made while closing out a ticket.
const withdrawTimeout = 5 * time.Second

// AckTransport is the narrow platform surface the tracker needs.
// *platform.REST satisfies it; tests substitute fakes.
type AckTransport interface {
	DeferInteraction(ctx context.Context, interactionID, interactionToken string, ephemeral bool) error
	DeleteOriginalResponse(ctx context.Context, applicationID, interactionToken string) error
}

// Ticket tracks one pending interactive response. It holds no event content,
// only the identifiers needed to close the reply slot and a timer.
//
// A ticket transitions at most once out of StateDeferred. The two possible
// terminators — the delivery worker's Resolve and the expiry timer — race
// through an atomic compare-and-swap, so exactly one of them applies.
type Ticket struct {
	token         string
	applicationID string
	visibility    Visibility
	createdAt     time.Time

	state atomic.Int32
	timer *time.Timer
}

// Token returns the interaction token, needed in relayed payloads so the
// Engine can post its own follow-up.
func (t *Ticket) Token() string { return t.token }

// ApplicationID returns the application the token belongs to.
func (t *Ticket) ApplicationID() string { return t.applicationID }

// Visibility returns whether the deferred placeholder is public or ephemeral.
func (t *Ticket) Visibility() Visibility { return t.visibility }

// State returns the current lifecycle state.
func (t *Ticket) State() AckState { return AckState(t.state.Load()) }

// Tracker manages the acknowledgment state machine: issuing deferrals and
// later resolving or expiring each ticket.
type Tracker struct {
	transport AckTransport
	window    time.Duration
	clock     types.Clock
	logger    types.Logger
}

// NewTracker creates a tracker. window is the interaction-token validity
// budget; a ticket still deferred when it elapses is force-expired.
func NewTracker(transport AckTransport, window time.Duration, logger types.Logger) *Tracker {
	return &Tracker{
		transport: transport,
		window:    window,
		clock:     types.RealClock{},
		logger:    logger,
	}
}

// SetClock overrides the clock for testing.
func (tr *Tracker) SetClock(c types.Clock) { tr.clock = c }

// Begin issues the platform deferral for an interaction and, on success,
// returns a ticket with its expiry timer armed. An interaction the platform
// reports as already acknowledged still yields a ticket: a prior handler beat
// us to the deferral and the reply slot exists.
//
// On failure the event must be abandoned entirely — there is no means left
// to deliver a response to the user, so relaying would be pointless.
func (tr *Tracker) Begin(ctx context.Context, ic *platform.InteractionCreate, visibility Visibility) (*Ticket, error) {
	err := tr.transport.DeferInteraction(ctx, ic.ID, ic.Token, visibility == VisibilityEphemeral)
	if err != nil && !errors.Is(err, platform.ErrAlreadyAcknowledged) {
		tr.logger.Warn("interaction deferral failed, abandoning event",
			"interaction_id", ic.ID,
			"error", err.Error(),
		)
		return nil, types.NewAppError(types.ErrCodeAckFailed,
			"deferral did not reach the platform in time", err)
	}

	t := &Ticket{
		token:         ic.Token,
		applicationID: ic.ApplicationID,
		visibility:    visibility,
		createdAt:     tr.clock.Now(),
	}
	t.timer = time.AfterFunc(tr.window, func() { tr.expire(t) })
	return t, nil
}

// Resolve applies the delivery outcome to a ticket. Called at most once per
// delivery; a ticket the expiry timer already terminated is left untouched.
func (tr *Tracker) Resolve(t *Ticket, outcome DeliveryOutcome) {
	target := StateExpiredWithdrawn
	if outcome == OutcomeDelivered {
		target = StateResolvedByEngine
	}

	if !t.state.CompareAndSwap(int32(StateDeferred), int32(target)) {
		return
	}
	t.timer.Stop()

	tr.logger.Info("acknowledgment resolved",
		"outcome", string(outcome),
		"visibility", string(t.visibility),
		"age", tr.clock.Now().Sub(t.createdAt).String(),
	)
	tr.closeOut(t)
}

// expire runs when the token window elapses with the ticket still deferred:
// no terminal delivery outcome ever arrived. It is the signal to operators
// that the Engine never responded.
func (tr *Tracker) expire(t *Ticket) {
	if !t.state.CompareAndSwap(int32(StateDeferred), int32(StateExpiredFailed)) {
		return
	}

	tr.logger.Error("acknowledgment expired without a delivery outcome",
		"visibility", string(t.visibility),
		"window", tr.window.String(),
	)
	tr.closeOut(t)
}

// closeOut finishes a terminal transition. Public placeholders are withdrawn
// so the UI does not appear to hang — the Engine posts its own follow-up
// independently. Ephemeral placeholders are left alone: withdrawing one would
// destroy the only surface the Engine can still edit a result onto.
//
// Withdrawal failures are expected (the token may be expired or consumed)
// and are logged at debug, never retried.
func (tr *Tracker) closeOut(t *Ticket) {
	if t.visibility != VisibilityPublic {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), withdrawTimeout)
	defer cancel()

	if err := tr.transport.DeleteOriginalResponse(ctx, t.applicationID, t.token); err != nil {
		tr.logger.Debug("placeholder withdrawal failed",
			"error", err.Error(),
		)
	}
}
