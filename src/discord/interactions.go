package discord

import (
	"fmt"
	"strconv"
)

type InteractionType int

// https://discord.com/developers/docs/interactions/receiving-and-responding#interaction-object-interaction-type
const (
	InteractionTypePing                           InteractionType = 1
	InteractionTypeApplicationCommand             InteractionType = 2
	InteractionTypeMessageComponent               InteractionType = 3
	InteractionTypeApplicationCommandAutocomplete InteractionType = 4
	InteractionTypeModalSubmit                    InteractionType = 5
)

// https://discord.com/developers/docs/interactions/receiving-and-responding#interaction-object
type Interaction struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Type          InteractionType `json:"type"`
	Data          InteractionData `json:"data"`
	GuildID       string          `json:"guild_id"`
	ChannelID     string          `json:"channel_id"`
	Channel       *Channel        `json:"channel"`
	Member        *GuildMember    `json:"member"`
	User          *User           `json:"user"`
	Token         string          `json:"token"`
	Message       *Message        `json:"message"`
}

// Invoker is the user who triggered the interaction, whether in a guild or a DM.
func (i *Interaction) Invoker() *User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func InteractionFromMap(m interface{}, k string) *Interaction {
	mmap := asMap(m, k)

	i := &Interaction{
		ID:            mustString(mmap, "id", k),
		ApplicationID: maybeString(mmap, "application_id"),
		Type:          InteractionType(maybeInt(mmap, "type")),
		GuildID:       maybeString(mmap, "guild_id"),
		ChannelID:     maybeString(mmap, "channel_id"),
		Token:         maybeString(mmap, "token"),
	}

	if data, ok := mmap["data"]; ok && data != nil {
		i.Data = InteractionDataFromMap(data, k+".data")
	}
	if channel, ok := mmap["channel"]; ok && channel != nil {
		i.Channel = ChannelFromMap(channel, k+".channel")
	}
	if member, ok := mmap["member"]; ok && member != nil {
		i.Member = GuildMemberFromMap(member, k+".member")
	}
	if user, ok := mmap["user"]; ok && user != nil {
		i.User = UserFromMap(user, k+".user")
	}
	if msg, ok := mmap["message"]; ok && msg != nil {
		i.Message = MessageFromMap(msg, k+".message")
	}

	return i
}

// InteractionData covers application commands, message components and modal
// submissions. Only the fields for the interaction's type are set.
type InteractionData struct {
	// Application commands
	ID       string                                    `json:"id"`
	Name     string                                    `json:"name"`
	Type     ApplicationCommandType                    `json:"type"`
	Resolved ResolvedData                              `json:"resolved"`
	Options  []ApplicationCommandInteractionDataOption `json:"options"`
	TargetID string                                    `json:"target_id"`

	// Components and modals
	CustomID      string        `json:"custom_id"`
	ComponentType ComponentType `json:"component_type"`
	Values        []string      `json:"values"`
	Components    []Component   `json:"components"`
}

// TextInputValue finds the submitted value of a text input in a modal.
func (d *InteractionData) TextInputValue(customID string) (string, bool) {
	var find func(components []Component) (string, bool)
	find = func(components []Component) (string, bool) {
		for _, c := range components {
			if c.Type == ComponentTypeTextInput && c.CustomID == customID {
				return c.Value, true
			}
			if v, ok := find(c.Components); ok {
				return v, true
			}
		}
		return "", false
	}
	return find(d.Components)
}

func InteractionDataFromMap(m interface{}, k string) InteractionData {
	mmap := asMap(m, k)

	d := InteractionData{
		ID:            maybeString(mmap, "id"),
		Name:          maybeString(mmap, "name"),
		Type:          ApplicationCommandType(maybeInt(mmap, "type")),
		TargetID:      maybeString(mmap, "target_id"),
		CustomID:      maybeString(mmap, "custom_id"),
		ComponentType: ComponentType(maybeInt(mmap, "component_type")),
	}

	if resolved, ok := mmap["resolved"]; ok && resolved != nil {
		d.Resolved = ResolvedDataFromMap(resolved, k+".resolved")
	}
	if opts, ok := mmap["options"].([]interface{}); ok {
		d.Options = optionsFromSlice(opts, k+".options")
	}
	if values, ok := mmap["values"].([]interface{}); ok {
		for _, v := range values {
			if s, ok := v.(string); ok {
				d.Values = append(d.Values, s)
			}
		}
	}
	if components, ok := mmap["components"].([]interface{}); ok {
		d.Components = componentsFromSlice(components, k+".components")
	}

	return d
}

type ResolvedData struct {
	Users       map[string]*User        `json:"users"`
	Members     map[string]*GuildMember `json:"members"`
	Messages    map[string]*Message     `json:"messages"`
	Attachments map[string]*Attachment  `json:"attachments"`
}

func ResolvedDataFromMap(m interface{}, k string) ResolvedData {
	mmap := asMap(m, k)
	var rd ResolvedData

	if users, ok := mmap["users"].(map[string]interface{}); ok {
		rd.Users = make(map[string]*User)
		for id, u := range users {
			rd.Users[id] = UserFromMap(u, k+".users."+id)
		}
	}

	if members, ok := mmap["members"].(map[string]interface{}); ok {
		rd.Members = make(map[string]*GuildMember)
		for id, mem := range members {
			member := GuildMemberFromMap(mem, k+".members."+id)
			// Resolved members omit the user; it lives under users.
			if member.User == nil {
				member.User = rd.Users[id]
			}
			rd.Members[id] = member
		}
	}

	if messages, ok := mmap["messages"].(map[string]interface{}); ok {
		rd.Messages = make(map[string]*Message)
		for id, msg := range messages {
			rd.Messages[id] = MessageFromMap(msg, k+".messages."+id)
		}
	}

	if attachments, ok := mmap["attachments"].(map[string]interface{}); ok {
		rd.Attachments = make(map[string]*Attachment)
		for id, a := range attachments {
			rd.Attachments[id] = AttachmentFromMap(a, k+".attachments."+id)
		}
	}

	return rd
}

type ApplicationCommandType int

// https://discord.com/developers/docs/interactions/application-commands#application-command-object-application-command-types
const (
	ApplicationCommandTypeChatInput ApplicationCommandType = 1
	ApplicationCommandTypeUser      ApplicationCommandType = 2
	ApplicationCommandTypeMessage   ApplicationCommandType = 3
)

type ApplicationCommandOptionType int

// https://discord.com/developers/docs/interactions/application-commands#application-command-object-application-command-option-type
const (
	ApplicationCommandOptionTypeSubCommand      ApplicationCommandOptionType = 1
	ApplicationCommandOptionTypeSubCommandGroup ApplicationCommandOptionType = 2
	ApplicationCommandOptionTypeString          ApplicationCommandOptionType = 3
	ApplicationCommandOptionTypeInteger         ApplicationCommandOptionType = 4
	ApplicationCommandOptionTypeBoolean         ApplicationCommandOptionType = 5
	ApplicationCommandOptionTypeUser            ApplicationCommandOptionType = 6
	ApplicationCommandOptionTypeChannel         ApplicationCommandOptionType = 7
	ApplicationCommandOptionTypeRole            ApplicationCommandOptionType = 8
	ApplicationCommandOptionTypeMentionable     ApplicationCommandOptionType = 9
	ApplicationCommandOptionTypeNumber          ApplicationCommandOptionType = 10
	ApplicationCommandOptionTypeAttachment      ApplicationCommandOptionType = 11
)

// https://discord.com/developers/docs/interactions/application-commands#application-command-object
type ApplicationCommand struct {
	Type        ApplicationCommandType     `json:"type,omitempty"`
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Options     []ApplicationCommandOption `json:"options,omitempty"`
}

type ApplicationCommandOption struct {
	Type        ApplicationCommandOptionType     `json:"type"`
	Name        string                           `json:"name"`
	Description string                           `json:"description"`
	Required    bool                             `json:"required,omitempty"`
	Choices     []ApplicationCommandOptionChoice `json:"choices,omitempty"`
	Options     []ApplicationCommandOption       `json:"options,omitempty"`
	MaxLength   int                              `json:"max_length,omitempty"`
}

type ApplicationCommandOptionChoice struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// https://discord.com/developers/docs/interactions/receiving-and-responding#interaction-object-application-command-interaction-data-option-structure
type ApplicationCommandInteractionDataOption struct {
	Name    string                                    `json:"name"`
	Type    ApplicationCommandOptionType              `json:"type"`
	Value   interface{}                               `json:"value"`
	Options []ApplicationCommandInteractionDataOption `json:"options"`
}

func optionsFromSlice(opts []interface{}, k string) []ApplicationCommandInteractionDataOption {
	var result []ApplicationCommandInteractionDataOption
	for i, iopt := range opts {
		optPath := fmt.Sprintf("%s[%d]", k, i)
		omap := asMap(iopt, optPath)
		opt := ApplicationCommandInteractionDataOption{
			Name:  maybeString(omap, "name"),
			Type:  ApplicationCommandOptionType(maybeInt(omap, "type")),
			Value: omap["value"],
		}
		if sub, ok := omap["options"].([]interface{}); ok {
			opt.Options = optionsFromSlice(sub, optPath+".options")
		}
		result = append(result, opt)
	}
	return result
}

// Options is a lookup helper over a command's option list.
type Options []ApplicationCommandInteractionDataOption

func (o Options) Get(name string) (ApplicationCommandInteractionDataOption, bool) {
	for _, opt := range o {
		if opt.Name == name {
			return opt, true
		}
	}
	return ApplicationCommandInteractionDataOption{}, false
}

func (o Options) String(name string) string {
	opt, ok := o.Get(name)
	if !ok {
		return ""
	}
	s, _ := opt.Value.(string)
	return s
}

// StringP distinguishes an omitted option from an empty one.
func (o Options) StringP(name string) *string {
	opt, ok := o.Get(name)
	if !ok {
		return nil
	}
	s, _ := opt.Value.(string)
	return &s
}

// Int handles both JSON numbers and the string ids used for snowflake-like values.
func (o Options) Int(name string) (int, bool) {
	opt, ok := o.Get(name)
	if !ok {
		return 0, false
	}
	switch v := opt.Value.(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func (o Options) Bool(name string) (bool, bool) {
	opt, ok := o.Get(name)
	if !ok {
		return false, false
	}
	b, ok := opt.Value.(bool)
	return b, ok
}

// Subcommand returns the selected subcommand and its options.
func (o Options) Subcommand() (string, Options) {
	for _, opt := range o {
		if opt.Type == ApplicationCommandOptionTypeSubCommand {
			return opt.Name, Options(opt.Options)
		}
	}
	return "", nil
}

type ComponentType int

// https://discord.com/developers/docs/interactions/message-components#component-object-component-types
const (
	ComponentTypeActionRow  ComponentType = 1
	ComponentTypeButton     ComponentType = 2
	ComponentTypeStringMenu ComponentType = 3
	ComponentTypeTextInput  ComponentType = 4
)

type ButtonStyle int

const (
	ButtonStylePrimary   ButtonStyle = 1
	ButtonStyleSecondary ButtonStyle = 2
	ButtonStyleSuccess   ButtonStyle = 3
	ButtonStyleDanger    ButtonStyle = 4
	ButtonStyleLink      ButtonStyle = 5
)

type TextInputStyle int

const (
	TextInputStyleShort     TextInputStyle = 1
	TextInputStyleParagraph TextInputStyle = 2
)

// Component is one of the message or modal components. Discord uses a single
// object shape with a type tag, so this does too.
type Component struct {
	Type       ComponentType `json:"type"`
	CustomID   string        `json:"custom_id,omitempty"`
	Components []Component   `json:"components,omitempty"`

	// Buttons
	Label string `json:"label,omitempty"`
	Style int    `json:"style,omitempty"`
	URL   string `json:"url,omitempty"`
	Emoji *Emoji `json:"emoji,omitempty"`

	// Select menus
	Options     []SelectOption `json:"options,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`

	// Text inputs
	Required  bool   `json:"required,omitempty"`
	MinLength *int   `json:"min_length,omitempty"`
	MaxLength *int   `json:"max_length,omitempty"`
	Value     string `json:"value,omitempty"`
}

type SelectOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

func ActionRow(components ...Component) Component {
	return Component{Type: ComponentTypeActionRow, Components: components}
}

func componentsFromSlice(components []interface{}, k string) []Component {
	var result []Component
	for i, ic := range components {
		cPath := fmt.Sprintf("%s[%d]", k, i)
		cmap := asMap(ic, cPath)
		c := Component{
			Type:      ComponentType(maybeInt(cmap, "type")),
			CustomID:  maybeString(cmap, "custom_id"),
			Value:     maybeString(cmap, "value"),
			MinLength: maybeIntP(cmap, "min_length"),
			MaxLength: maybeIntP(cmap, "max_length"),
		}
		if sub, ok := cmap["components"].([]interface{}); ok {
			c.Components = componentsFromSlice(sub, cPath+".components")
		}
		result = append(result, c)
	}
	return result
}

type InteractionCallbackType int

// https://discord.com/developers/docs/interactions/receiving-and-responding#interaction-response-object-interaction-callback-type
const (
	InteractionCallbackTypePong                             InteractionCallbackType = 1
	InteractionCallbackTypeChannelMessageWithSource         InteractionCallbackType = 4
	InteractionCallbackTypeDeferredChannelMessageWithSource InteractionCallbackType = 5
	InteractionCallbackTypeDeferredUpdateMessage            InteractionCallbackType = 6
	InteractionCallbackTypeUpdateMessage                    InteractionCallbackType = 7
	InteractionCallbackTypeModal                            InteractionCallbackType = 9
)

type MessageFlags int

const (
	FlagSuppressEmbeds MessageFlags = 1 << 2
	FlagEphemeral      MessageFlags = 1 << 6
)

type InteractionResponse struct {
	Type InteractionCallbackType  `json:"type"`
	Data *InteractionCallbackData `json:"data,omitempty"`
}

// InteractionCallbackData is a message, or a modal when CustomID and Title are set.
type InteractionCallbackData struct {
	Content         string           `json:"content,omitempty"`
	Embeds          []Embed          `json:"embeds,omitempty"`
	Flags           MessageFlags     `json:"flags,omitempty"`
	Components      []Component      `json:"components,omitempty"`
	AllowedMentions *AllowedMentions `json:"allowed_mentions,omitempty"`

	CustomID string `json:"custom_id,omitempty"`
	Title    string `json:"title,omitempty"`
}

// https://discord.com/developers/docs/resources/channel#allowed-mentions-object
type AllowedMentions struct {
	Parse []string `json:"parse"`
}

// NoMentions keeps user-provided text from pinging anyone.
var NoMentions = &AllowedMentions{Parse: []string{}}

// https://discord.com/developers/docs/resources/channel#embed-object
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}
