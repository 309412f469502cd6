package discord

import (
	"encoding/json"
	"fmt"
	"time"
)

type Opcode int

// https://discord.com/developers/docs/topics/opcodes-and-status-codes#gateway-gateway-opcodes
// 5 is unused, so no iota.
const (
	OpcodeDispatch            Opcode = 0
	OpcodeHeartbeat           Opcode = 1
	OpcodeIdentify            Opcode = 2
	OpcodePresenceUpdate      Opcode = 3
	OpcodeVoiceStateUpdate    Opcode = 4
	OpcodeResume              Opcode = 6
	OpcodeReconnect           Opcode = 7
	OpcodeRequestGuildMembers Opcode = 8
	OpcodeInvalidSession      Opcode = 9
	OpcodeHello               Opcode = 10
	OpcodeHeartbeatACK        Opcode = 11
)

type Intent int

// https://discord.com/developers/docs/topics/gateway#list-of-intents
const (
	IntentGuilds                Intent = 1 << 0
	IntentGuildMembers          Intent = 1 << 1
	IntentGuildMessages         Intent = 1 << 9
	IntentGuildMessageReactions Intent = 1 << 10
	IntentDirectMessages        Intent = 1 << 12
	IntentMessageContent        Intent = 1 << 15
)

type GatewayMessage struct {
	Opcode         Opcode      `json:"op"`
	Data           interface{} `json:"d"`
	SequenceNumber *int        `json:"s,omitempty"`
	EventName      *string     `json:"t,omitempty"`
}

func (m *GatewayMessage) ToJSON() []byte {
	mBytes, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return mBytes
}

type Hello struct {
	HeartbeatIntervalMs int `json:"heartbeat_interval"`
}

func HelloFromMap(m interface{}, k string) Hello {
	mmap := asMap(m, k)
	return Hello{
		HeartbeatIntervalMs: maybeInt(mmap, "heartbeat_interval"),
	}
}

type Identify struct {
	Token      string                       `json:"token"`
	Properties IdentifyConnectionProperties `json:"properties"`
	Intents    Intent                       `json:"intents"`
}

type IdentifyConnectionProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type Ready struct {
	GatewayVersion   int    `json:"v"`
	User             User   `json:"user"`
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

func ReadyFromMap(m interface{}, k string) Ready {
	mmap := asMap(m, k)

	return Ready{
		GatewayVersion:   maybeInt(mmap, "v"),
		User:             *UserFromMap(mmap["user"], k+".user"),
		SessionID:        mustString(mmap, "session_id", k),
		ResumeGatewayURL: maybeString(mmap, "resume_gateway_url"),
	}
}

type Resume struct {
	Token          string `json:"token"`
	SessionID      string `json:"session_id"`
	SequenceNumber int    `json:"seq"`
}

type ChannelType int

// https://discord.com/developers/docs/resources/channel#channel-object-channel-types
const (
	ChannelTypeGuildText          ChannelType = 0
	ChannelTypeDM                 ChannelType = 1
	ChannelTypeGuildCategory      ChannelType = 4
	ChannelTypeGuildNews          ChannelType = 5
	ChannelTypeGuildNewsThread    ChannelType = 10
	ChannelTypeGuildPublicThread  ChannelType = 11
	ChannelTypeGuildPrivateThread ChannelType = 12
	ChannelTypeGuildForum         ChannelType = 15
)

func (t ChannelType) IsThread() bool {
	return t == ChannelTypeGuildNewsThread || t == ChannelTypeGuildPublicThread || t == ChannelTypeGuildPrivateThread
}

// https://discord.com/developers/docs/resources/channel#channel-object
type Channel struct {
	ID       string      `json:"id"`
	Type     ChannelType `json:"type"`
	GuildID  string      `json:"guild_id"`
	Name     string      `json:"name"`
	OwnerID  string      `json:"owner_id"`
	ParentID *string     `json:"parent_id"`
}

func ChannelFromMap(m interface{}, k string) *Channel {
	mmap := asMap(m, k)
	return &Channel{
		ID:       mustString(mmap, "id", k),
		Type:     ChannelType(maybeInt(mmap, "type")),
		GuildID:  maybeString(mmap, "guild_id"),
		Name:     maybeString(mmap, "name"),
		OwnerID:  maybeString(mmap, "owner_id"),
		ParentID: maybeStringP(mmap, "parent_id"),
	}
}

type MessageType int

// https://discord.com/developers/docs/resources/channel#message-object-message-types
const (
	MessageTypeDefault              MessageType = 0
	MessageTypeChannelPinnedMessage MessageType = 6
	MessageTypeThreadCreated        MessageType = 18
	MessageTypeReply                MessageType = 19
	MessageTypeApplicationCommand   MessageType = 20
	MessageTypeThreadStarterMessage MessageType = 21
)

// https://discord.com/developers/docs/resources/channel#message-object
type Message struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channel_id"`
	GuildID   *string     `json:"guild_id"`
	Content   string      `json:"content"`
	Author    *User       `json:"author"` // may be a webhook, see the docs
	Timestamp string      `json:"timestamp"`
	Type      MessageType `json:"type"`

	Attachments []Attachment `json:"attachments"`
	Reactions   []Reaction   `json:"reactions"`

	originalMap map[string]interface{}
}

func (m *Message) JumpURL() string {
	guildStr := "@me"
	if m.GuildID != nil {
		guildStr = *m.GuildID
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildStr, m.ChannelID, m.ID)
}

func (m *Message) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (m *Message) OriginalHasFields(fields ...string) bool {
	if m.originalMap == nil {
		// Messages from the REST API always have every field.
		return true
	}

	for _, field := range fields {
		if _, ok := m.originalMap[field]; !ok {
			return false
		}
	}
	return true
}

// MessageFromMap parses a message from the gateway or an interaction
// payload. Partial events like MESSAGE_UPDATE omit most fields, so only
// the ids are required.
func MessageFromMap(m interface{}, k string) *Message {
	mmap := asMap(m, k)
	msg := &Message{
		ID:        mustString(mmap, "id", k),
		ChannelID: mustString(mmap, "channel_id", k),
		GuildID:   maybeStringP(mmap, "guild_id"),
		Content:   maybeString(mmap, "content"),
		Timestamp: maybeString(mmap, "timestamp"),
		Type:      MessageType(maybeInt(mmap, "type")),

		originalMap: mmap,
	}

	if author, ok := mmap["author"]; ok && author != nil {
		msg.Author = UserFromMap(author, k+".author")
	}

	if iattachments, ok := mmap["attachments"].([]interface{}); ok {
		for i, iattachment := range iattachments {
			msg.Attachments = append(msg.Attachments, *AttachmentFromMap(iattachment, fmt.Sprintf("%s.attachments[%d]", k, i)))
		}
	}

	if ireactions, ok := mmap["reactions"].([]interface{}); ok {
		for i, ireaction := range ireactions {
			msg.Reactions = append(msg.Reactions, ReactionFromMap(ireaction, fmt.Sprintf("%s.reactions[%d]", k, i)))
		}
	}

	return msg
}

// https://discord.com/developers/docs/resources/user#user-object
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	GlobalName    *string `json:"global_name"`
	Avatar        *string `json:"avatar"`
	IsBot         bool    `json:"bot"`
}

func (u *User) DisplayName() string {
	if u.GlobalName != nil && *u.GlobalName != "" {
		return *u.GlobalName
	}
	return u.Username
}

func UserFromMap(m interface{}, k string) *User {
	mmap := asMap(m, k)
	return &User{
		ID:            mustString(mmap, "id", k),
		Username:      maybeString(mmap, "username"),
		Discriminator: maybeString(mmap, "discriminator"),
		GlobalName:    maybeStringP(mmap, "global_name"),
		Avatar:        maybeStringP(mmap, "avatar"),
		IsBot:         maybeBool(mmap, "bot"),
	}
}

// https://discord.com/developers/docs/resources/guild#guild-member-object
type GuildMember struct {
	User *User   `json:"user"`
	Nick *string `json:"nick"`
}

func GuildMemberFromMap(m interface{}, k string) *GuildMember {
	mmap := asMap(m, k)
	gm := &GuildMember{
		Nick: maybeStringP(mmap, "nick"),
	}
	if u, ok := mmap["user"]; ok && u != nil {
		gm.User = UserFromMap(u, k+".user")
	}
	return gm
}

// https://discord.com/developers/docs/resources/channel#attachment-object
type Attachment struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	ContentType *string `json:"content_type"`
	Size        int     `json:"size"`
	Url         string  `json:"url"`
	ProxyUrl    string  `json:"proxy_url"`
}

func AttachmentFromMap(m interface{}, k string) *Attachment {
	mmap := asMap(m, k)
	return &Attachment{
		ID:          mustString(mmap, "id", k),
		Filename:    maybeString(mmap, "filename"),
		ContentType: maybeStringP(mmap, "content_type"),
		Size:        maybeInt(mmap, "size"),
		Url:         maybeString(mmap, "url"),
		ProxyUrl:    maybeString(mmap, "proxy_url"),
	}
}

// https://discord.com/developers/docs/resources/emoji#emoji-object
type Emoji struct {
	ID       *string `json:"id"`
	Name     string  `json:"name"`
	Animated bool    `json:"animated"`
}

// String renders the emoji the way users type it: the character itself for
// Unicode emoji, or a <:name:id> mention for custom ones.
func (e Emoji) String() string {
	if e.ID == nil {
		return e.Name
	}
	if e.Animated {
		return fmt.Sprintf("<a:%s:%s>", e.Name, *e.ID)
	}
	return fmt.Sprintf("<:%s:%s>", e.Name, *e.ID)
}

// URLParam is the form the reactions endpoints expect in the path, before
// escaping.
func (e Emoji) URLParam() string {
	if e.ID == nil {
		return e.Name
	}
	return fmt.Sprintf("%s:%s", e.Name, *e.ID)
}

func EmojiFromMap(m interface{}, k string) Emoji {
	mmap := asMap(m, k)
	return Emoji{
		ID:       maybeStringP(mmap, "id"),
		Name:     maybeString(mmap, "name"),
		Animated: maybeBool(mmap, "animated"),
	}
}

// https://discord.com/developers/docs/resources/channel#reaction-object
type Reaction struct {
	Count int   `json:"count"`
	Me    bool  `json:"me"`
	Emoji Emoji `json:"emoji"`
}

func ReactionFromMap(m interface{}, k string) Reaction {
	mmap := asMap(m, k)
	return Reaction{
		Count: maybeInt(mmap, "count"),
		Me:    maybeBool(mmap, "me"),
		Emoji: EmojiFromMap(mmap["emoji"], k+".emoji"),
	}
}

// https://discord.com/developers/docs/resources/guild#guild-object
type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func GuildFromMap(m interface{}, k string) *Guild {
	mmap := asMap(m, k)
	return &Guild{
		ID:   mustString(mmap, "id", k),
		Name: maybeString(mmap, "name"),
	}
}

// The FromMap functions panic on payloads that are missing required fields.
// The gateway recovers and logs those per event.

type PayloadError struct {
	Path string
	Msg  string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("bad Discord payload at %s: %s", e.Path, e.Msg)
}

func asMap(m interface{}, k string) map[string]interface{} {
	mmap, ok := m.(map[string]interface{})
	if !ok {
		panic(&PayloadError{Path: pathOrRoot(k), Msg: fmt.Sprintf("expected an object, got %T", m)})
	}
	return mmap
}

func pathOrRoot(k string) string {
	if k == "" {
		return "<root>"
	}
	return k
}

func mustString(m map[string]interface{}, field, k string) string {
	val, ok := m[field].(string)
	if !ok {
		panic(&PayloadError{Path: pathOrRoot(k) + "." + field, Msg: "expected a string"})
	}
	return val
}

func maybeString(m map[string]interface{}, k string) string {
	val, _ := m[k].(string)
	return val
}

func maybeStringP(m map[string]interface{}, k string) *string {
	val, ok := m[k].(string)
	if !ok {
		return nil
	}
	return &val
}

func maybeInt(m map[string]interface{}, k string) int {
	val, _ := m[k].(float64)
	return int(val)
}

func maybeIntP(m map[string]interface{}, k string) *int {
	val, ok := m[k].(float64)
	if !ok {
		return nil
	}
	intval := int(val)
	return &intval
}

func maybeBool(m map[string]interface{}, k string) bool {
	val, _ := m[k].(bool)
	return val
}
