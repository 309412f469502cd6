package protect

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/odysseia/protect/src/models"
	"github.com/odysseia/protect/src/store"
)

var (
	NotFound           = store.NotFound
	InvariantViolation = store.InvariantViolation
)

var (
	ErrNotAuthor              = errors.New("only the thread author can manage its resources")
	ErrConsentRequired        = errors.New("the privacy policy must be accepted first")
	ErrWarehouseNotConfigured = errors.New("no warehouse channel is configured")
	ErrInvalidMessageLink     = errors.New("not a valid message link")
	ErrMessageOutsideThread   = errors.New("the linked message is not in this thread")
	ErrInvalidEmoji           = errors.New("not a single emoji")
	ErrFileTooLarge           = errors.New("file is too large")
	ErrEmptyFile              = errors.New("file is empty")
	ErrPasswordOnNormal       = errors.New("only protected resources can have a password")
)

type DenyReason string

const (
	ReasonReactionMissing  DenyReason = "reaction_missing"
	ReasonPasswordRequired DenyReason = "password_required"
	ReasonPasswordMismatch DenyReason = "password_mismatch"
)

// GateDenied means the requester did not satisfy the resource's access policy.
type GateDenied struct {
	Reason     DenyReason
	ResourceID int

	// Set for ReasonReactionMissing. Nil means any emoji is accepted.
	RequiredEmoji *string
}

func (e *GateDenied) Error() string {
	return fmt.Sprintf("access to resource %d denied: %s", e.ResourceID, e.Reason)
}

func IsDenied(err error, reason DenyReason) bool {
	var denied *GateDenied
	return errors.As(err, &denied) && denied.Reason == reason
}

// PartialFailure means a cross-system operation completed on one side only.
// Nothing is rolled back; the failure is logged and recorded for repair.
type PartialFailure struct {
	Stage models.ReconciliationStage
	Cause error

	PublicThreadID   string
	ArchiveThreadID  string
	MessageID        string
	ResourceID       int
	ReconciliationID uuid.UUID
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("partial failure at %s (thread %s, archive %s, message %s): %v",
		e.Stage, e.PublicThreadID, e.ArchiveThreadID, e.MessageID, e.Cause)
}

func (e *PartialFailure) Unwrap() error {
	return e.Cause
}

// IndexCommitted reports whether the index side of the operation took effect.
func (e *PartialFailure) IndexCommitted() bool {
	return e.Stage == models.StageArchiveDelete
}

// PlatformCommitted reports whether the platform side of the operation took effect.
func (e *PartialFailure) PlatformCommitted() bool {
	return e.Stage == models.StageIndexRow || e.Stage == models.StageArchivePairing
}

type UnavailableReason string

const (
	ReasonMessageNotFound   UnavailableReason = "message_not_found"
	ReasonAttachmentMissing UnavailableReason = "attachment_missing"
)

// Unavailable means the resource row exists but its carrier message is gone
// or unusable. The row is left alone.
type Unavailable struct {
	Reason     UnavailableReason
	ResourceID int
	Cause      error
}

func (e *Unavailable) Error() string {
	return fmt.Sprintf("resource %d is unavailable: %s", e.ResourceID, e.Reason)
}

func (e *Unavailable) Unwrap() error {
	return e.Cause
}
