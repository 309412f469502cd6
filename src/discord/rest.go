package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"strconv"

	"github.com/odysseia/protect/src/config"
	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/oops"
)

const (
	BotName = "OdysseiaProtect"
	BaseURL = "https://discord.com/api/v10"

	UserAgentURL     = "https://github.com/odysseia/protect"
	UserAgentVersion = "1.0"
)

var UserAgent = fmt.Sprintf("DiscordBot (%s, %s) %s", UserAgentURL, UserAgentVersion, BotName)

// NotFound is returned when Discord answers 404: the channel, message or
// interaction no longer exists.
var NotFound = errors.New("Discord object not found")

// ErrTooLarge is returned by DownloadAttachment when the file exceeds the limit.
var ErrTooLarge = errors.New("attachment is too large")

// An APIError is a non-success response from Discord.
// https://discord.com/developers/docs/reference#error-messages
type APIError struct {
	Route      string
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Discord returned %d on %s (code %d): %s", e.StatusCode, e.Route, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return NotFound
	}
	return nil
}

// Client talks to the Discord REST API on behalf of the bot.
type Client struct {
	BaseURL       string
	Token         string
	ApplicationID string
	GuildID       string

	http    *http.Client
	limiter *rateLimiter
}

func NewClient(cfg config.DiscordConfig) *Client {
	return &Client{
		BaseURL:       BaseURL,
		Token:         cfg.BotToken,
		ApplicationID: cfg.ApplicationID,
		GuildID:       cfg.GuildID,
		http:          &http.Client{},
		limiter:       newRateLimiter(),
	}
}

func (c *Client) makeRequest(ctx context.Context, method string, path string, body []byte, contentType string) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, oops.New(err, "failed to build Discord request")
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bot %s", c.Token))
	req.Header.Add("User-Agent", UserAgent)
	if contentType != "" {
		req.Header.Add("Content-Type", contentType)
	}

	return req, nil
}

// call performs one API request. A JSON body is marshaled from in unless in
// is a *multipartBody. If out is non-nil the response body is decoded into it.
func (c *Client) call(ctx context.Context, name, method, path string, in interface{}, out interface{}) error {
	var body []byte
	var contentType string
	switch b := in.(type) {
	case nil:
	case *multipartBody:
		body, contentType = b.data, b.contentType
	default:
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return oops.New(err, "failed to marshal %s request", name)
		}
		contentType = "application/json"
	}

	res, err := c.limiter.do(ctx, c.http, name, func(ctx context.Context) (*http.Request, error) {
		return c.makeRequest(ctx, method, path, body, contentType)
	})
	if err != nil {
		return oops.New(err, "failed to send %s request", name)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return c.errorResponse(ctx, name, res)
	}

	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}

	resBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return oops.New(err, "failed to read %s response", name)
	}
	if err := json.Unmarshal(resBytes, out); err != nil {
		return oops.New(err, "failed to unmarshal %s response", name)
	}
	return nil
}

func (c *Client) errorResponse(ctx context.Context, name string, res *http.Response) error {
	apiErr := &APIError{Route: name, StatusCode: res.StatusCode}

	// 404s are routine here (deleted messages), so only dump the others.
	if res.StatusCode != http.StatusNotFound {
		logErrorResponse(ctx, name, res, "received error from Discord")
	}

	resBytes, err := io.ReadAll(res.Body)
	if err == nil {
		_ = json.Unmarshal(resBytes, apiErr)
	}
	return apiErr
}

func logErrorResponse(ctx context.Context, name string, res *http.Response, msg string) {
	dump, err := httputil.DumpResponse(res, false)
	if err != nil {
		dump = []byte(err.Error())
	}

	logging.ExtractLogger(ctx).Error().
		Str("name", name).
		Int("status", res.StatusCode).
		Str("response", string(dump)).
		Msg(msg)
}

type GetGatewayBotResponse struct {
	URL string `json:"url"`
	// Shards and session limits do not matter for a single-guild bot.
}

func (c *Client) GetGatewayBot(ctx context.Context) (*GetGatewayBotResponse, error) {
	var result GetGatewayBotResponse
	err := c.call(ctx, "Get Gateway Bot", http.MethodGet, "/gateway/bot", nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var channel Channel
	err := c.call(ctx, "Get Channel", http.MethodGet, fmt.Sprintf("/channels/%s", channelID), nil, &channel)
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (c *Client) GetChannelMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	var msg Message
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	err := c.call(ctx, "Get Channel Message", http.MethodGet, path, nil, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

type CreateMessageRequest struct {
	Content         string                  `json:"content,omitempty"`
	Embeds          []Embed                 `json:"embeds,omitempty"`
	Components      []Component             `json:"components,omitempty"`
	AllowedMentions *AllowedMentions        `json:"allowed_mentions,omitempty"`
	Attachments     []PartialAttachment     `json:"attachments,omitempty"`
	Reference       *MessageReferenceObject `json:"message_reference,omitempty"`
}

type PartialAttachment struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

type MessageReferenceObject struct {
	MessageID string `json:"message_id"`
}

func (c *Client) CreateMessage(ctx context.Context, channelID string, req CreateMessageRequest) (*Message, error) {
	var msg Message
	err := c.call(ctx, "Create Message", http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), req, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

type multipartBody struct {
	data        []byte
	contentType string
}

// https://discord.com/developers/docs/reference#uploading-files
func newMultipartBody(payload interface{}, files ...FileUpload) (*multipartBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, oops.New(err, "failed to marshal payload_json")
	}
	pw, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="payload_json"`},
		"Content-Type":        {"application/json"},
	})
	if err != nil {
		return nil, oops.New(err, "failed to create payload part")
	}
	if _, err := pw.Write(payloadJSON); err != nil {
		return nil, oops.New(err, "failed to write payload part")
	}

	for i, file := range files {
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		fw, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Disposition": {fmt.Sprintf(`form-data; name="files[%d]"; filename=%q`, i, file.Name)},
			"Content-Type":        {contentType},
		})
		if err != nil {
			return nil, oops.New(err, "failed to create file part")
		}
		if _, err := fw.Write(file.Data); err != nil {
			return nil, oops.New(err, "failed to write file part")
		}
	}

	if err := w.Close(); err != nil {
		return nil, oops.New(err, "failed to finish multipart body")
	}
	return &multipartBody{data: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}

func (c *Client) CreateMessageWithFile(ctx context.Context, channelID string, req CreateMessageRequest, file FileUpload) (*Message, error) {
	req.Attachments = []PartialAttachment{{ID: 0, Filename: file.Name}}
	body, err := newMultipartBody(req, file)
	if err != nil {
		return nil, err
	}

	var msg Message
	err = c.call(ctx, "Create Message With File", http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), body, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	return c.call(ctx, "Delete Message", http.MethodDelete, path, nil, nil)
}

const MaxReactionsPage = 100

// GetReactions returns one page of users who reacted with emoji, starting
// after the given user id.
func (c *Client) GetReactions(ctx context.Context, channelID, messageID string, emoji Emoji, after string) ([]User, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(MaxReactionsPage))
	if after != "" {
		query.Set("after", after)
	}
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s?%s",
		channelID, messageID, url.PathEscape(emoji.URLParam()), query.Encode())

	var users []User
	err := c.call(ctx, "Get Reactions", http.MethodGet, path, nil, &users)
	if err != nil {
		return nil, err
	}
	return users, nil
}

type StartThreadRequest struct {
	Name                string      `json:"name"`
	Type                ChannelType `json:"type"`
	AutoArchiveDuration int         `json:"auto_archive_duration,omitempty"`
	Invitable           *bool       `json:"invitable,omitempty"`
}

// StartThreadWithoutMessage opens a thread in a text channel. Private threads
// need the channel's guild to allow them.
func (c *Client) StartThreadWithoutMessage(ctx context.Context, channelID string, req StartThreadRequest) (*Channel, error) {
	var channel Channel
	err := c.call(ctx, "Start Thread", http.MethodPost, fmt.Sprintf("/channels/%s/threads", channelID), req, &channel)
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (c *Client) CreateInteractionResponse(ctx context.Context, interactionID, interactionToken string, res InteractionResponse) error {
	path := fmt.Sprintf("/interactions/%s/%s/callback", interactionID, interactionToken)
	return c.call(ctx, "Create Interaction Response", http.MethodPost, path, res, nil)
}

func (c *Client) EditOriginalInteractionResponse(ctx context.Context, interactionToken string, data InteractionCallbackData) error {
	path := fmt.Sprintf("/webhooks/%s/%s/messages/@original", c.ApplicationID, interactionToken)
	return c.call(ctx, "Edit Original Interaction Response", http.MethodPatch, path, data, nil)
}

func (c *Client) CreateFollowupMessage(ctx context.Context, interactionToken string, data InteractionCallbackData) error {
	path := fmt.Sprintf("/webhooks/%s/%s", c.ApplicationID, interactionToken)
	return c.call(ctx, "Create Followup Message", http.MethodPost, path, data, nil)
}

// BulkOverwriteApplicationCommands replaces the bot's commands, on one guild
// if guildID is set or globally otherwise.
func (c *Client) BulkOverwriteApplicationCommands(ctx context.Context, guildID string, commands []ApplicationCommand) error {
	path := fmt.Sprintf("/applications/%s/commands", c.ApplicationID)
	if guildID != "" {
		path = fmt.Sprintf("/applications/%s/guilds/%s/commands", c.ApplicationID, guildID)
	}
	return c.call(ctx, "Bulk Overwrite Application Commands", http.MethodPut, path, commands, nil)
}

// DownloadAttachment fetches a file from Discord's CDN. It does not send the
// bot token, which the CDN does not need.
func (c *Client) DownloadAttachment(ctx context.Context, attachmentURL string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, attachmentURL, nil)
	if err != nil {
		return nil, oops.New(err, "bad attachment URL")
	}
	req.Header.Add("User-Agent", UserAgent)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, oops.New(err, "failed to download attachment")
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusForbidden {
		return nil, oops.New(NotFound, "attachment is gone (status %d)", res.StatusCode)
	}
	if res.StatusCode >= 400 {
		logErrorResponse(ctx, "Download Attachment", res, "failed to download attachment")
		return nil, oops.New(nil, "attachment download returned status %d", res.StatusCode)
	}

	var body io.Reader = res.Body
	if maxBytes > 0 {
		body = io.LimitReader(res.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, oops.New(err, "failed to read attachment")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
