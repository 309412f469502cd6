package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/odysseia/protect/src/config"
	"github.com/odysseia/protect/src/protect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(config.DiscordConfig{BotToken: "token", ApplicationID: "app", GuildID: "guild"})
	client.BaseURL = server.URL
	return client
}

func TestDeleteMessageNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/channels/thread/messages/msg", r.URL.Path)
		assert.Equal(t, "Bot token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Unknown Message", "code": 10008}`)
	})

	err := client.DeleteMessage(context.Background(), "thread", "msg")
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, NotFound))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 10008, apiErr.Code)

	err = NewPlatform(client).DeleteMessage(context.Background(), "thread", "msg")
	assert.True(t, errors.Is(err, protect.ErrPlatformNotFound))
}

func TestCreateMessageWithFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/archive/messages", r.URL.Path)
		if !assert.Nil(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		var payload CreateMessageRequest
		assert.Nil(t, json.Unmarshal([]byte(r.FormValue("payload_json")), &payload))
		if assert.Len(t, payload.Attachments, 1) {
			assert.Equal(t, "mod.zip", payload.Attachments[0].Filename)
		}

		file, header, err := r.FormFile("files[0]")
		if !assert.Nil(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "mod.zip", header.Filename)
		assert.Equal(t, "application/zip", header.Header.Get("Content-Type"))
		assert.Equal(t, "PK", string(data))

		fmt.Fprint(w, `{"id": "new", "channel_id": "archive"}`)
	})

	id, err := NewPlatform(client).CreateMessageWithFile(context.Background(), "archive", protect.File{
		Name:        "mod.zip",
		ContentType: "application/zip",
		Data:        []byte("PK"),
	})
	require.Nil(t, err)
	assert.Equal(t, "new", id)
}

func TestPlatformGetReactionsPages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/channels/thread/messages/thread":
			fmt.Fprint(w, `{
				"id": "thread",
				"channel_id": "thread",
				"reactions": [
					{"count": 101, "emoji": {"id": null, "name": "👍"}},
					{"count": 1, "emoji": {"id": "42", "name": "pog"}}
				]
			}`)
		case strings.HasSuffix(r.URL.Path, "/reactions/👍"):
			var users []User
			if r.URL.Query().Get("after") == "" {
				for i := 0; i < MaxReactionsPage; i++ {
					users = append(users, User{ID: fmt.Sprintf("u%03d", i)})
				}
			} else {
				assert.Equal(t, fmt.Sprintf("u%03d", MaxReactionsPage-1), r.URL.Query().Get("after"))
				users = []User{{ID: "last"}}
			}
			_ = json.NewEncoder(w).Encode(users)
		case strings.HasSuffix(r.URL.Path, "/reactions/pog:42"):
			fmt.Fprint(w, `[{"id": "custom"}]`)
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	reactions, err := NewPlatform(client).GetReactions(context.Background(), "thread", "thread")
	require.Nil(t, err)
	require.Len(t, reactions, MaxReactionsPage+2)
	assert.Equal(t, protect.Reaction{UserID: "last", Emoji: "👍"}, reactions[MaxReactionsPage])
	assert.Equal(t, protect.Reaction{UserID: "custom", Emoji: "<:pog:42>"}, reactions[MaxReactionsPage+1])
}

func TestPlatformGetFreshURL(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Path {
		case "/channels/archive/messages/file":
			fmt.Fprintf(w, `{"id": "file", "channel_id": "archive", "attachments": [{"id": "a", "filename": "mod.zip", "url": "https://cdn.example/mod.zip?ex=%d"}]}`, calls)
		case "/channels/archive/messages/text":
			fmt.Fprint(w, `{"id": "text", "channel_id": "archive", "attachments": []}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	platform := NewPlatform(client)

	first, err := platform.GetFreshURL(context.Background(), "archive", "file")
	require.Nil(t, err)
	second, err := platform.GetFreshURL(context.Background(), "archive", "file")
	require.Nil(t, err)
	assert.NotEqual(t, first, second)

	_, err = platform.GetFreshURL(context.Background(), "archive", "text")
	assert.True(t, errors.Is(err, protect.ErrNoAttachment))

	_, err = platform.GetFreshURL(context.Background(), "archive", "gone")
	assert.True(t, errors.Is(err, protect.ErrPlatformNotFound))
}

func TestDownloadAttachment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/small":
			fmt.Fprint(w, "12345")
		case "/expired":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(config.DiscordConfig{BotToken: "token"})
	platform := NewPlatform(client)

	data, err := client.DownloadAttachment(context.Background(), server.URL+"/small", 5)
	require.Nil(t, err)
	assert.Equal(t, "12345", string(data))

	_, err = client.DownloadAttachment(context.Background(), server.URL+"/small", 4)
	assert.True(t, errors.Is(err, ErrTooLarge))
	_, err = platform.DownloadAttachment(context.Background(), server.URL+"/small", 4)
	assert.True(t, errors.Is(err, protect.ErrFileTooLarge))

	_, err = platform.DownloadAttachment(context.Background(), server.URL+"/expired", 5)
	assert.True(t, errors.Is(err, protect.ErrPlatformNotFound))
}

func TestBulkOverwriteApplicationCommands(t *testing.T) {
	var got []ApplicationCommand
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/applications/app/guilds/guild/commands", r.URL.Path)
		assert.Nil(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `[]`)
	})

	bot := NewBot(client, nil, config.DiscordConfig{GuildID: "guild"}, "")
	require.Nil(t, bot.RegisterCommands(context.Background()))

	names := make(map[string]bool)
	for _, cmd := range got {
		names[cmd.Name] = true
	}
	for _, name := range []string{SlashCommandUpload, SlashCommandDownload, SlashCommandManage, SlashCommandPrivacy, SlashCommandHelp, MessageCommandArchive, MessageCommandUploadNormal} {
		assert.True(t, names[name], "missing command %s", name)
	}
}
