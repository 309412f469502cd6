package protect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/odysseia/protect/src/models"
	"github.com/odysseia/protect/src/store"
	"github.com/stretchr/testify/require"
)

const testWarehouse = "warehouse"

type fakeMessage struct {
	channelID string
	authorID  string
	content   string
	file      *File
}

// fakePlatform is an in-memory chat platform that records every call that
// changes state.
type fakePlatform struct {
	mu sync.Mutex

	nextID    int
	messages  map[string]*fakeMessage // channel/message
	reactions map[string][]Reaction   // channel/message
	uploads   map[string][]byte       // attachment url

	archiveThreads []string
	posted         []string // channel/message
	deleted        []string // channel/message
	freshURLCalls  int

	createMessageErr error
	deleteMessageErr error
	onCreateThread   func(id string)
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		nextID:    1000,
		messages:  make(map[string]*fakeMessage),
		reactions: make(map[string][]Reaction),
		uploads:   make(map[string][]byte),
	}
}

func msgKey(channelID, messageID string) string {
	return channelID + "/" + messageID
}

func (p *fakePlatform) newID() string {
	p.nextID++
	return fmt.Sprint(p.nextID)
}

func attachmentURL(channelID, messageID, filename string) string {
	return fmt.Sprintf("https://cdn.example.com/attachments/%s/%s/%s", channelID, messageID, filename)
}

// addMessage puts a message into a channel as if a user had posted it.
func (p *fakePlatform) addMessage(channelID, authorID, content string, file *File) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.newID()
	p.messages[msgKey(channelID, id)] = &fakeMessage{channelID: channelID, authorID: authorID, content: content, file: file}
	if file != nil {
		p.uploads[attachmentURL(channelID, id, file.Name)] = file.Data
	}
	return id
}

func (p *fakePlatform) react(channelID, messageID, userID, emoji string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := msgKey(channelID, messageID)
	p.reactions[k] = append(p.reactions[k], Reaction{UserID: userID, Emoji: emoji})
}

func (p *fakePlatform) removeMessage(channelID, messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.messages, msgKey(channelID, messageID))
}

func (p *fakePlatform) hasMessage(channelID, messageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.messages[msgKey(channelID, messageID)]
	return ok
}

func (p *fakePlatform) deletedMessages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

func (p *fakePlatform) CreateMessageWithFile(ctx context.Context, threadID string, file File) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.createMessageErr != nil {
		return "", p.createMessageErr
	}
	id := p.newID()
	p.messages[msgKey(threadID, id)] = &fakeMessage{channelID: threadID, authorID: "bot", file: &file}
	p.uploads[attachmentURL(threadID, id, file.Name)] = file.Data
	p.posted = append(p.posted, msgKey(threadID, id))
	return id, nil
}

func (p *fakePlatform) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deleteMessageErr != nil {
		return p.deleteMessageErr
	}
	k := msgKey(threadID, messageID)
	if _, ok := p.messages[k]; !ok {
		return ErrPlatformNotFound
	}
	delete(p.messages, k)
	p.deleted = append(p.deleted, k)
	return nil
}

// GetFreshURL hands out a different signed URL on every call, like a CDN
// that expires links.
func (p *fakePlatform) GetFreshURL(ctx context.Context, threadID, messageID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg, ok := p.messages[msgKey(threadID, messageID)]
	if !ok {
		return "", ErrPlatformNotFound
	}
	if msg.file == nil {
		return "", ErrNoAttachment
	}
	p.freshURLCalls++
	return fmt.Sprintf("%s?ex=%d", attachmentURL(threadID, messageID, msg.file.Name), p.freshURLCalls), nil
}

func (p *fakePlatform) GetReactions(ctx context.Context, threadID, messageID string) ([]Reaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := msgKey(threadID, messageID)
	if _, ok := p.messages[k]; !ok {
		return nil, ErrPlatformNotFound
	}
	return append([]Reaction(nil), p.reactions[k]...), nil
}

func (p *fakePlatform) CreateArchiveThread(ctx context.Context, warehouseChannelID, title string) (string, error) {
	p.mu.Lock()
	id := p.newID()
	p.archiveThreads = append(p.archiveThreads, id)
	hook := p.onCreateThread
	p.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return id, nil
}

func (p *fakePlatform) GetMessage(ctx context.Context, channelID, messageID string) (*PlatformMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg, ok := p.messages[msgKey(channelID, messageID)]
	if !ok {
		return nil, ErrPlatformNotFound
	}
	res := &PlatformMessage{
		ID:        messageID,
		ChannelID: channelID,
		AuthorID:  msg.authorID,
		Content:   msg.content,
		JumpURL:   fmt.Sprintf("https://discord.com/channels/1/%s/%s", channelID, messageID),
	}
	if msg.file != nil {
		res.Attachments = append(res.Attachments, PlatformAttachment{
			Filename:    msg.file.Name,
			URL:         attachmentURL(channelID, messageID, msg.file.Name),
			ContentType: msg.file.ContentType,
			Size:        len(msg.file.Data),
		})
	}
	return res, nil
}

func (p *fakePlatform) DownloadAttachment(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, ok := p.uploads[strings.SplitN(url, "?", 2)[0]]
	if !ok {
		return nil, ErrPlatformNotFound
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

// failingStore fails resource creation while everything else works.
type failingStore struct {
	store.Store
	createErr error
}

func (s *failingStore) CreateResource(ctx context.Context, threadID int, mode models.ResourceMode, desc store.ResourceDescriptor) (*models.Resource, error) {
	return nil, s.createErr
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

type testEnv struct {
	store    store.Store
	platform *fakePlatform
	service  *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := newTestStore(t)
	p := newFakePlatform()
	return &testEnv{
		store:    s,
		platform: p,
		service: NewService(s, p, ServiceConfig{
			WarehouseChannelID: testWarehouse,
			MaxUploadBytes:     1024,
		}),
	}
}

// newPublicThread creates a forum thread on the platform. Its starter
// message shares the thread id.
func (e *testEnv) newPublicThread(authorID string) string {
	e.platform.mu.Lock()
	id := e.platform.newID()
	e.platform.messages[msgKey(id, id)] = &fakeMessage{channelID: id, authorID: authorID, content: "starter"}
	e.platform.mu.Unlock()
	return id
}

func (e *testEnv) createProtected(t *testing.T, threadID, authorID string, password *string) *models.Resource {
	t.Helper()
	resource, err := e.service.Coordinator.CreateProtected(context.Background(), CreateProtectedInput{
		PublicThreadID: threadID,
		ThreadTitle:    "My mod",
		AuthorID:       authorID,
		File:           File{Name: "mod.zip", ContentType: "application/zip", Data: []byte("PK\x03\x04")},
		Version:        "1.0",
		Password:       password,
	})
	require.NoError(t, err)
	return resource
}

func (e *testEnv) createNormal(t *testing.T, threadID, authorID string, withFile bool) *models.Resource {
	t.Helper()
	var file *File
	if withFile {
		file = &File{Name: "public.zip", Data: []byte("public")}
	}
	messageID := e.platform.addMessage(threadID, authorID, "grab it here", file)

	thread, err := e.store.UpsertThread(context.Background(), threadID, authorID)
	require.NoError(t, err)
	resource, err := e.store.CreateResource(context.Background(), thread.ID, models.ResourceModeNormal, store.ResourceDescriptor{
		Filename:         "public.zip",
		CarrierMessageID: messageID,
	})
	require.NoError(t, err)
	return resource
}
