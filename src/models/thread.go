package models

import "time"

// A Thread is a public forum thread that has at least one indexed resource.
// Protected resources pull in a paired archive thread inside the warehouse
// channel; the pairing is made lazily and never undone.
type Thread struct {
	ID              int     `db:"id"`
	PublicThreadID  string  `db:"public_thread_id"`
	ArchiveThreadID *string `db:"archive_thread_id"`
	AuthorID        string  `db:"author_id"`

	ReactionRequired bool    `db:"reaction_required"`
	RequiredEmoji    *string `db:"required_emoji"` // nil means any emoji counts

	// Saving a message to the archive deletes the public original.
	QuickModeEnabled bool `db:"quick_mode_enabled"`

	CreatedAt time.Time `db:"created_at"`
}

func (t *Thread) HasArchive() bool {
	return t.ArchiveThreadID != nil && *t.ArchiveThreadID != ""
}

// On the chat platform the first message of a forum thread shares the
// thread's id, so that is where reactions are counted.
func (t *Thread) GatingMessageID() string {
	return t.PublicThreadID
}

func (t *Thread) IsAuthor(userID string) bool {
	return t.AuthorID != "" && t.AuthorID == userID
}
