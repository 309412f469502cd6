package protect

import (
	"context"
	"errors"
)

// ErrPlatformNotFound is returned by platform collaborators when the thread
// or message no longer exists.
var ErrPlatformNotFound = errors.New("platform object not found")

// ErrNoAttachment is returned by GetFreshURL when the message exists but
// carries no attachment.
var ErrNoAttachment = errors.New("message has no attachment")

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Reaction struct {
	UserID string
	Emoji  string
}

// PlatformAttachments is the slice of the chat platform the lifecycle needs
// for archive messages.
type PlatformAttachments interface {
	// CreateMessageWithFile posts file into a thread and returns the new
	// message id.
	CreateMessageWithFile(ctx context.Context, threadID string, file File) (string, error)
	DeleteMessage(ctx context.Context, threadID, messageID string) error
	// GetFreshURL fetches the message again and returns the current URL of
	// its first attachment. URLs expire, so callers must never keep them.
	GetFreshURL(ctx context.Context, threadID, messageID string) (string, error)
	GetReactions(ctx context.Context, threadID, messageID string) ([]Reaction, error)
}

type ThreadProvisioning interface {
	// CreateArchiveThread opens a private thread in the warehouse channel and
	// returns its id.
	CreateArchiveThread(ctx context.Context, warehouseChannelID, title string) (string, error)
}

type PlatformAttachment struct {
	Filename    string
	URL         string
	ContentType string
	Size        int
}

type PlatformMessage struct {
	ID          string
	ChannelID   string
	AuthorID    string
	Content     string
	Attachments []PlatformAttachment
	JumpURL     string
}

// MessageLookup reads arbitrary messages. Used when indexing existing
// messages and when a normal resource has no attachment to link to.
type MessageLookup interface {
	GetMessage(ctx context.Context, channelID, messageID string) (*PlatformMessage, error)
	DownloadAttachment(ctx context.Context, url string, maxBytes int64) ([]byte, error)
}

// Platform is everything the service needs from the chat platform.
type Platform interface {
	PlatformAttachments
	ThreadProvisioning
	MessageLookup
}
