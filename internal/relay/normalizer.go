package relay

import (
	"fmt"

	"github.com/zudduz/cscratch-dg/internal/platform"
	"github.com/zudduz/cscratch-dg/internal/types"
)

// Normalizer translates raw platform events into normalized Events. It is a
// pure function over its inputs plus the static registry: no I/O, no state.
type Normalizer struct {
	registry *Registry
}

// NewNormalizer creates a normalizer backed by the given registry.
func NewNormalizer(registry *Registry) *Normalizer {
	return &Normalizer{registry: registry}
}

// NormalizeMessage translates a chat message. Bot-authored and empty-content
// messages are filtered: the nil return is not an error.
func (n *Normalizer) NormalizeMessage(m *platform.MessageCreate) *Event {
	if m.Author.Bot || m.Content == "" {
		return nil
	}

	return &Event{
		Kind: KindMessage,
		Context: EventContext{
			GuildID:   m.GuildID,
			ChannelID: m.ChannelID,
			UserID:    m.Author.ID,
			UserName:  m.Author.Username,
		},
		Message: &MessagePayload{
			Content:   m.Content,
			MessageID: m.ID,
		},
	}
}

// NormalizeCommand translates a slash-command invocation. The subcommand name
// is resolved through the registry to the canonical relay name, and arguments
// are coerced into the registry's closed, typed parameter set.
func (n *Normalizer) NormalizeCommand(ic *platform.InteractionCreate) (*Event, CommandSpec, error) {
	sub, err := subcommandOf(ic)
	if err != nil {
		return nil, CommandSpec{}, err
	}

	spec, err := n.registry.Lookup(sub.Name)
	if err != nil {
		return nil, CommandSpec{}, err
	}

	params, err := coerceParams(spec, sub.Options)
	if err != nil {
		return nil, CommandSpec{}, err
	}

	user := ic.Sender()
	return &Event{
		Kind: KindCommand,
		Context: EventContext{
			GuildID:   ic.GuildID,
			ChannelID: ic.ChannelID,
			UserID:    user.ID,
			UserName:  user.Username,
		},
		Command: &CommandPayload{
			Command: spec.Name,
			Params:  params,
		},
	}, spec, nil
}

// NormalizeComponent translates a button or select-menu interaction. The
// values slice is always non-nil; buttons carry an empty one.
func (n *Normalizer) NormalizeComponent(ic *platform.InteractionCreate) *Event {
	values := ic.Data.Values
	if values == nil {
		values = []string{}
	}

	user := ic.Sender()
	return &Event{
		Kind: KindComponent,
		Context: EventContext{
			GuildID:   ic.GuildID,
			ChannelID: ic.ChannelID,
			UserID:    user.ID,
			UserName:  user.Username,
		},
		Component: &ComponentPayload{
			CustomID: ic.Data.CustomID,
			Values:   values,
		},
	}
}

// subcommandOf extracts the invoked subcommand from a /cscratch interaction.
func subcommandOf(ic *platform.InteractionCreate) (platform.CommandOption, error) {
	if ic.Data.Name != topLevelCommand {
		return platform.CommandOption{}, types.NewAppError(types.ErrCodeUnknownCommand,
			fmt.Sprintf("unexpected top-level command %q", ic.Data.Name), nil)
	}
	for _, opt := range ic.Data.Options {
		if opt.Type == platform.OptionTypeSubCommand {
			return opt, nil
		}
	}
	return platform.CommandOption{}, types.NewAppError(types.ErrCodeUnknownCommand,
		"command invocation carried no subcommand", nil)
}

// coerceParams maps raw options onto the command's declared parameter set.
// Undeclared options are dropped; declared parameters that are absent fall
// back to their default or, when required, fail.
func coerceParams(spec CommandSpec, opts []platform.CommandOption) (map[string]any, error) {
	raw := make(map[string]any, len(opts))
	for _, opt := range opts {
		raw[opt.Name] = opt.Value
	}

	params := make(map[string]any, len(spec.Params))
	for _, p := range spec.Params {
		val, ok := raw[p.Name]
		if !ok {
			if p.Required {
				return nil, types.NewAppError(types.ErrCodeUnknownCommand,
					fmt.Sprintf("command %q missing required argument %q", spec.Name, p.Name), nil)
			}
			if p.Default != nil {
				params[p.Name] = p.Default
			}
			continue
		}

		coerced, err := coerceValue(p.Type, val)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUnknownCommand,
				fmt.Sprintf("command %q argument %q: %v", spec.Name, p.Name, err), nil)
		}
		params[p.Name] = coerced
	}

	return params, nil
}

// coerceValue converts a decoded JSON option value to the declared type.
// User references arrive as snowflake strings and stay strings; integers
// arrive as float64 and become int64.
func coerceValue(t ParamType, val any) (any, error) {
	switch t {
	case ParamString, ParamUser:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", val)
		}
		return s, nil
	case ParamInteger:
		switch v := val.(type) {
		case float64:
			return int64(v), nil
		case int64:
			return v, nil
		}
		return nil, fmt.Errorf("expected integer, got %T", val)
	default:
		return nil, fmt.Errorf("unsupported parameter type %d", t)
	}
}
