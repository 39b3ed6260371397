package platform

// Raw inbound gateway event shapes. Only the fields the relay consumes are
// declared; everything else in the platform payload is ignored on decode.
// All identifiers are kept as strings: snowflakes overflow float64 under
// default JSON number handling.

// User identifies the platform account behind a message or interaction.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// Member wraps a guild membership; the gateway nests the user inside it for
// guild-scoped interactions.
type Member struct {
	User *User `json:"user"`
}

// MessageCreate is the MESSAGE_CREATE dispatch payload.
type MessageCreate struct {
	ID        string `json:"id"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	Author    User   `json:"author"`
	Content   string `json:"content"`
}

// Interaction types delivered via INTERACTION_CREATE.
const (
	InteractionTypePing               = 1
	InteractionTypeApplicationCommand = 2
	InteractionTypeMessageComponent   = 3
)

// Application command option types (the subset the registry declares).
const (
	OptionTypeSubCommand = 1
	OptionTypeString     = 3
	OptionTypeInteger    = 4
	OptionTypeUser       = 6
)

// CommandOption is one invocation argument. For subcommands the value is
// nested one level down in Options.
type CommandOption struct {
	Name    string          `json:"name"`
	Type    int             `json:"type"`
	Value   any             `json:"value,omitempty"`
	Options []CommandOption `json:"options,omitempty"`
}

// InteractionData carries the command- or component-specific portion of an
// interaction.
type InteractionData struct {
	Name          string          `json:"name"`
	Options       []CommandOption `json:"options"`
	CustomID      string          `json:"custom_id"`
	ComponentType int             `json:"component_type"`
	Values        []string        `json:"values"`
}

// InteractionCreate is the INTERACTION_CREATE dispatch payload.
type InteractionCreate struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Type          int             `json:"type"`
	Token         string          `json:"token"`
	GuildID       string          `json:"guild_id"`
	ChannelID     string          `json:"channel_id"`
	Member        *Member         `json:"member"`
	User          *User           `json:"user"`
	Data          InteractionData `json:"data"`
}

// Sender returns the invoking user. Guild interactions nest it under member;
// DM interactions carry it at the top level.
func (i *InteractionCreate) Sender() User {
	if i.Member != nil && i.Member.User != nil {
		return *i.Member.User
	}
	if i.User != nil {
		return *i.User
	}
	return User{}
}

// ApplicationCommand is the declaration shape used to register the command
// schema at startup via BulkOverwriteCommands.
type ApplicationCommand struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Options     []ApplicationCommandOption `json:"options,omitempty"`
}

// ApplicationCommandOption declares one subcommand or argument.
type ApplicationCommandOption struct {
	Type        int                        `json:"type"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Required    bool                       `json:"required,omitempty"`
	Options     []ApplicationCommandOption `json:"options,omitempty"`
}
