package relay

import (
	"fmt"

	"github.com/zudduz/cscratch-dg/internal/platform"
	"github.com/zudduz/cscratch-dg/internal/types"
)

// topLevelCommand is the single slash-command group every relay command
// lives under: /cscratch <subcommand>.
const topLevelCommand = "cscratch"

// ParamType constrains what a command argument may contain. User-typed
// arguments are flattened to the stable ID string of the referenced account.
type ParamType int

const (
	ParamString ParamType = iota
	ParamInteger
	ParamUser
)

// ParamSpec declares one argument of a registered command.
type ParamSpec struct {
	Name        string
	Description string
	Type        ParamType
	Required    bool
	Default     any // applied when the argument is omitted; nil means absent
}

// CommandSpec is one entry of the registry: the canonical relay name, the
// default visibility of the deferral, and the closed parameter set.
type CommandSpec struct {
	Name        string
	Description string
	Visibility  Visibility
	Params      []ParamSpec
}

// Registry is the static mapping from command name to normalization rule,
// plus the component-ID visibility rules. Populated at startup, read-only
// thereafter, so it needs no locking.
type Registry struct {
	commands            map[string]CommandSpec
	order               []string
	ephemeralComponents map[string]bool
}

// NewRegistry returns the registry for the cscratch command set.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]CommandSpec),
		// The start button opens a per-user setup flow; everything else a
		// component produces is posted publicly by the Engine.
		ephemeralComponents: map[string]bool{"start_btn": true},
	}

	r.register(CommandSpec{
		Name:        "start",
		Description: "Start a new game",
		Visibility:  VisibilityPublic,
		Params: []ParamSpec{{
			Name:        "cartridge",
			Description: "Game cartridge to load",
			Type:        ParamString,
			Default:     "foster-protocol",
		}},
	})
	r.register(CommandSpec{
		Name:        "end",
		Description: "Clean up the current game",
		Visibility:  VisibilityPublic,
	})
	r.register(CommandSpec{
		Name:        "balance",
		Description: "Check your scratch balance (Private)",
		Visibility:  VisibilityEphemeral,
	})
	r.register(CommandSpec{
		Name:        "guide",
		Description: "Read a getting started guide",
		Visibility:  VisibilityPublic,
	})
	r.register(CommandSpec{
		Name:        "manual",
		Description: "Read a manual covering all game mechanics",
		Visibility:  VisibilityPublic,
	})

	return r
}

func (r *Registry) register(spec CommandSpec) {
	r.commands[spec.Name] = spec
	r.order = append(r.order, spec.Name)
}

// Lookup resolves a command name to its spec. Unknown names are rejected
// before any relay happens.
func (r *Registry) Lookup(name string) (CommandSpec, error) {
	spec, ok := r.commands[name]
	if !ok {
		return CommandSpec{}, types.NewAppError(types.ErrCodeUnknownCommand,
			fmt.Sprintf("command %q is not registered", name), nil)
	}
	return spec, nil
}

// ComponentVisibility returns the deferral visibility for a component
// interaction, keyed on its custom_id. Default is public.
func (r *Registry) ComponentVisibility(customID string) Visibility {
	if r.ephemeralComponents[customID] {
		return VisibilityEphemeral
	}
	return VisibilityPublic
}

// PlatformCommands renders the registry as the platform command schema for
// startup registration: one top-level command with one subcommand per entry.
func (r *Registry) PlatformCommands() []platform.ApplicationCommand {
	subs := make([]platform.ApplicationCommandOption, 0, len(r.order))
	for _, name := range r.order {
		spec := r.commands[name]

		opts := make([]platform.ApplicationCommandOption, 0, len(spec.Params))
		for _, p := range spec.Params {
			opts = append(opts, platform.ApplicationCommandOption{
				Type:        platformOptionType(p.Type),
				Name:        p.Name,
				Description: p.Description,
				Required:    p.Required,
			})
		}

		subs = append(subs, platform.ApplicationCommandOption{
			Type:        platform.OptionTypeSubCommand,
			Name:        spec.Name,
			Description: spec.Description,
			Options:     opts,
		})
	}

	return []platform.ApplicationCommand{{
		Name:        topLevelCommand,
		Description: "Manage cscratch games",
		Options:     subs,
	}}
}

func platformOptionType(t ParamType) int {
	switch t {
	case ParamInteger:
		return platform.OptionTypeInteger
	case ParamUser:
		return platform.OptionTypeUser
	default:
		return platform.OptionTypeString
	}
}
