package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zudduz/cscratch-dg/internal/engine"
	"github.com/zudduz/cscratch-dg/internal/types"
)

// postResult scripts one Post call of the fake engine client.
type postResult struct {
	res *engine.Result
	err error
}

type fakeEngineClient struct {
	script []postResult

	kinds    []string
	payloads []any
}

func (f *fakeEngineClient) Post(_ context.Context, kind string, payload any) (*engine.Result, error) {
	f.kinds = append(f.kinds, kind)
	f.payloads = append(f.payloads, payload)

	i := len(f.kinds) - 1
	if i >= len(f.script) {
		return nil, errors.New("unscripted call")
	}
	return f.script[i].res, f.script[i].err
}

type fakeResolver struct {
	tickets  []*Ticket
	outcomes []DeliveryOutcome
}

func (f *fakeResolver) Resolve(t *Ticket, outcome DeliveryOutcome) {
	f.tickets = append(f.tickets, t)
	f.outcomes = append(f.outcomes, outcome)
}

func transportErr() error {
	return types.NewAppError(types.ErrCodeTransport, "engine unreachable", errors.New("connection refused"))
}

func messageEvent() *Event {
	return &Event{
		Kind: KindMessage,
		Context: EventContext{
			GuildID:   "G1",
			ChannelID: "C1",
			UserID:    "U1",
			UserName:  "ada",
		},
		Message: &MessagePayload{Content: "hello", MessageID: "M1"},
	}
}

func newTestWorker(ec EngineClient, tracker ticketResolver, sleeps *[]time.Duration) *Worker {
	return NewWorker(ec, tracker, 3, types.NopLogger{},
		WithDelayUnit(time.Millisecond),
		WithSleepFunc(func(d time.Duration) { *sleeps = append(*sleeps, d) }),
	)
}

func TestDeliver_FirstAttempt(t *testing.T) {
	var sleeps []time.Duration
	ec := &fakeEngineClient{script: []postResult{
		{res: &engine.Result{StatusCode: 202}},
	}}
	w := newTestWorker(ec, &fakeResolver{}, &sleeps)

	outcome := w.Deliver(context.Background(), messageEvent())

	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, []string{"message"}, ec.kinds)
	assert.Empty(t, sleeps)
}

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	var sleeps []time.Duration
	ec := &fakeEngineClient{script: []postResult{
		{err: transportErr()},
		{err: transportErr()},
		{res: &engine.Result{StatusCode: 200}},
	}}
	w := newTestWorker(ec, &fakeResolver{}, &sleeps)

	outcome := w.Deliver(context.Background(), messageEvent())

	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Len(t, ec.kinds, 3)
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond}, sleeps)
}

func TestDeliver_RejectionIsTerminal(t *testing.T) {
	var sleeps []time.Duration
	ec := &fakeEngineClient{script: []postResult{
		{res: &engine.Result{StatusCode: 404, Body: `{"detail":"unknown event type"}`}},
	}}
	w := newTestWorker(ec, &fakeResolver{}, &sleeps)

	// A rejection is the Engine's answer: delivered, never retried.
	outcome := w.Deliver(context.Background(), messageEvent())

	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Len(t, ec.kinds, 1)
	assert.Empty(t, sleeps)
}

func TestDeliver_Exhausted(t *testing.T) {
	var sleeps []time.Duration
	ec := &fakeEngineClient{script: []postResult{
		{err: transportErr()},
		{err: transportErr()},
		{err: transportErr()},
	}}
	w := newTestWorker(ec, &fakeResolver{}, &sleeps)

	outcome := w.Deliver(context.Background(), messageEvent())

	assert.Equal(t, OutcomeExhausted, outcome)
	assert.Len(t, ec.kinds, 3)
	// No sleep after the final attempt.
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond}, sleeps)
}

func TestDeliver_AbortsOnNonTransportError(t *testing.T) {
	var sleeps []time.Duration
	ec := &fakeEngineClient{script: []postResult{
		{err: types.NewAppError(types.ErrCodeEngineUnavailable, "circuit open", nil)},
	}}
	w := newTestWorker(ec, &fakeResolver{}, &sleeps)

	outcome := w.Deliver(context.Background(), messageEvent())

	assert.Equal(t, OutcomeAborted, outcome)
	assert.Len(t, ec.kinds, 1)
	assert.Empty(t, sleeps)
}

func TestDeliver_ResolvesTicketOnce(t *testing.T) {
	tests := []struct {
		name    string
		script  []postResult
		outcome DeliveryOutcome
	}{
		{"delivered", []postResult{{res: &engine.Result{StatusCode: 200}}}, OutcomeDelivered},
		{"exhausted", []postResult{{err: transportErr()}, {err: transportErr()}, {err: transportErr()}}, OutcomeExhausted},
		{"aborted", []postResult{{err: types.NewAppError(types.ErrCodeEngineUnavailable, "circuit open", nil)}}, OutcomeAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sleeps []time.Duration
			resolver := &fakeResolver{}
			w := newTestWorker(&fakeEngineClient{script: tt.script}, resolver, &sleeps)

			ticket := &Ticket{token: "tok-1", applicationID: "APP1", visibility: VisibilityPublic}
			ev := messageEvent()
			ev.Ticket = ticket

			w.Deliver(context.Background(), ev)

			require.Len(t, resolver.outcomes, 1)
			assert.Same(t, ticket, resolver.tickets[0])
			assert.Equal(t, tt.outcome, resolver.outcomes[0])
		})
	}
}

func TestDeliver_NoTicketNoResolve(t *testing.T) {
	var sleeps []time.Duration
	resolver := &fakeResolver{}
	ec := &fakeEngineClient{script: []postResult{{res: &engine.Result{StatusCode: 200}}}}
	w := newTestWorker(ec, resolver, &sleeps)

	w.Deliver(context.Background(), messageEvent())

	assert.Empty(t, resolver.outcomes)
}

func TestBuildPayload_Command(t *testing.T) {
	ev := &Event{
		Kind: KindCommand,
		Context: EventContext{
			GuildID:   "1111",
			ChannelID: "2222",
			UserID:    "3333",
			UserName:  "ada",
		},
		Command: &CommandPayload{
			Command: "start",
			Params:  map[string]any{"cartridge": "foster-protocol"},
		},
		Ticket: &Ticket{token: "itoken", applicationID: "4444"},
	}

	raw, err := json.Marshal(buildPayload(ev))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"command": "start",
		"context": {
			"guild_id": "1111",
			"channel_id": "2222",
			"user_id": "3333",
			"user_name": "ada",
			"interaction_token": "itoken",
			"application_id": "4444"
		},
		"params": {"cartridge": "foster-protocol"}
	}`, string(raw))
}

func TestBuildPayload_MessageNullGuild(t *testing.T) {
	ev := &Event{
		Kind: KindMessage,
		Context: EventContext{
			ChannelID: "2222",
			UserID:    "3333",
			UserName:  "ada",
		},
		Message: &MessagePayload{Content: "hi", MessageID: "5555"},
	}

	raw, err := json.Marshal(buildPayload(ev))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"guild_id": null,
		"channel_id": "2222",
		"user_id": "3333",
		"user_name": "ada",
		"content": "hi",
		"message_id": "5555"
	}`, string(raw))
}

func TestBuildPayload_Component(t *testing.T) {
	ev := &Event{
		Kind: KindComponent,
		Context: EventContext{
			GuildID:   "1111",
			ChannelID: "2222",
			UserID:    "3333",
			UserName:  "grace",
		},
		Component: &ComponentPayload{CustomID: "start_btn", Values: []string{}},
		Ticket:    &Ticket{token: "itoken", applicationID: "4444"},
	}

	raw, err := json.Marshal(buildPayload(ev))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "component",
		"custom_id": "start_btn",
		"guild_id": "1111",
		"channel_id": "2222",
		"user_id": "3333",
		"user_name": "grace",
		"values": [],
		"interaction_token": "itoken",
		"application_id": "4444"
	}`, string(raw))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}
