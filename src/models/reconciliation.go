package models

import (
	"time"

	"github.com/google/uuid"
)

type ReconciliationStage string

const (
	// An archive message was posted but the index row was never written.
	StageIndexRow ReconciliationStage = "index_row"
	// The index row is gone but the archive message could not be deleted.
	StageArchiveDelete ReconciliationStage = "archive_delete"
	// Two requests raced to pair a thread and the loser's archive thread is unused.
	StageArchivePairing ReconciliationStage = "archive_pairing"
)

// A ReconciliationItem records a half-finished operation across the index and
// the chat platform so an operator can repair it.
type ReconciliationItem struct {
	ID              uuid.UUID           `db:"id"`
	Stage           ReconciliationStage `db:"stage"`
	PublicThreadID  string              `db:"public_thread_id"`
	ArchiveThreadID string              `db:"archive_thread_id"`
	MessageID       *string             `db:"message_id"`
	ResourceID      *int                `db:"resource_id"`
	Cause           string              `db:"cause"`
	CreatedAt       time.Time           `db:"created_at"`
	ResolvedAt      *time.Time          `db:"resolved_at"`
}

func (r *ReconciliationItem) Resolved() bool {
	return r.ResolvedAt != nil
}
