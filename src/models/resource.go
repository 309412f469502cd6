package models

import (
	"fmt"
	"time"
)

type ResourceMode string

const (
	ResourceModeNormal    ResourceMode = "normal"
	ResourceModeProtected ResourceMode = "protected"
)

func (m ResourceMode) Valid() bool {
	return m == ResourceModeNormal || m == ResourceModeProtected
}

func ParseResourceMode(s string) (ResourceMode, error) {
	mode := ResourceMode(s)
	if !mode.Valid() {
		return "", fmt.Errorf("unknown resource mode %q", s)
	}
	return mode, nil
}

const DefaultVersion = "not provided"

type Resource struct {
	ID       int          `db:"id"`
	ThreadID int          `db:"thread_id"`
	Mode     ResourceMode `db:"mode"`
	Version  string       `db:"version"`
	Filename string       `db:"filename"`

	// For protected resources this is the archive copy inside the paired
	// archive thread. For normal resources it is the original message in the
	// public thread.
	CarrierMessageID string `db:"carrier_message_id"`

	// Stored and compared as given. Nil means no password.
	Password *string `db:"password"`

	DownloadCount int       `db:"download_count"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *Resource) IsProtected() bool {
	return r.Mode == ResourceModeProtected
}

func (r *Resource) HasPassword() bool {
	return r.Password != nil
}

// ArchiveMessageID is the id of the archive copy, or "" for normal resources.
func (r *Resource) ArchiveMessageID() string {
	if r.IsProtected() {
		return r.CarrierMessageID
	}
	return ""
}

// CarrierChannelID is the thread the carrier message lives in.
func (r *Resource) CarrierChannelID(thread *Thread) string {
	if r.IsProtected() {
		if thread.ArchiveThreadID == nil {
			return ""
		}
		return *thread.ArchiveThreadID
	}
	return thread.PublicThreadID
}

// Validate checks the resource against its owning thread. A protected
// resource needs a paired archive thread, and every resource needs a carrier
// message.
func (r *Resource) Validate(thread *Thread) error {
	if !r.Mode.Valid() {
		return fmt.Errorf("resource %d has unknown mode %q", r.ID, r.Mode)
	}
	if r.ThreadID != thread.ID {
		return fmt.Errorf("resource %d belongs to thread %d, not %d", r.ID, r.ThreadID, thread.ID)
	}
	if r.CarrierMessageID == "" {
		return fmt.Errorf("resource %d has no carrier message", r.ID)
	}
	if r.IsProtected() && !thread.HasArchive() {
		return fmt.Errorf("protected resource %d is on thread %d which has no archive thread", r.ID, thread.ID)
	}
	return nil
}
