// Package store is the persistent index of threads, resources, users and
// reconciliation items. It is the only component that touches the database.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/odysseia/protect/src/db"
	"github.com/odysseia/protect/src/models"
)

// NotFound is returned when a referenced row does not exist.
var NotFound = db.NotFound

// InvariantViolation is returned when a write would break one of the index's
// structural rules, such as re-pairing a thread with a different archive
// thread or indexing a protected resource on an unpaired thread.
var InvariantViolation = errors.New("invariant violation")

type Store interface {
	// UpsertThread returns the thread for a public thread id, creating it
	// with authorID as the owner if it does not exist yet. The author of an
	// existing thread is never changed.
	UpsertThread(ctx context.Context, publicThreadID, authorID string) (*models.Thread, error)
	GetThread(ctx context.Context, id int) (*models.Thread, error)
	GetThreadByPublicID(ctx context.Context, publicThreadID string) (*models.Thread, error)

	// AttachArchiveThread pairs a thread with its archive thread. Pairing
	// happens at most once: repeating the same pairing is a no-op, and a
	// different archive id yields InvariantViolation.
	AttachArchiveThread(ctx context.Context, threadID int, archiveThreadID string) (*models.Thread, error)
	SetReactionWall(ctx context.Context, threadID int, enabled bool, emoji *string) (*models.Thread, error)
	SetQuickMode(ctx context.Context, threadID int, enabled bool) (*models.Thread, error)

	CreateResource(ctx context.Context, threadID int, mode models.ResourceMode, desc ResourceDescriptor) (*models.Resource, error)
	GetResource(ctx context.Context, id int) (*models.Resource, error)
	ListResources(ctx context.Context, threadID int) (*ResourceList, error)
	UpdateResource(ctx context.Context, id int, update ResourceUpdate) (*models.Resource, error)

	// DeleteResource atomically removes the row and returns what it held.
	// When several callers race, exactly one gets the row and the rest get
	// NotFound.
	DeleteResource(ctx context.Context, id int) (*models.Resource, error)
	IncrementDownloadCount(ctx context.Context, id int) error

	GetOrCreateUser(ctx context.Context, userID string) (*models.User, error)
	AcceptPrivacyPolicy(ctx context.Context, userID string) (*models.User, error)

	RecordReconciliation(ctx context.Context, item models.ReconciliationItem) (*models.ReconciliationItem, error)
	ListReconciliation(ctx context.Context, includeResolved bool) ([]*models.ReconciliationItem, error)
	ResolveReconciliation(ctx context.Context, id uuid.UUID) (*models.ReconciliationItem, error)

	Close()
}

type ResourceDescriptor struct {
	Filename         string
	Version          string
	Password         *string
	CarrierMessageID string
}

type ResourceUpdate struct {
	Version *string

	// Nil leaves the password unchanged. A non-nil pointer to nil clears it.
	Password **string
}

func (u ResourceUpdate) Empty() bool {
	return u.Version == nil && u.Password == nil
}

func SetPassword(password string) **string {
	p := &password
	return &p
}

func ClearPassword() **string {
	var p *string
	return &p
}

// ResourceList is a thread's resources grouped by mode. Each group is ordered
// by creation time, oldest first.
type ResourceList struct {
	Normal    []*models.Resource
	Protected []*models.Resource
}

func (l *ResourceList) Len() int {
	return len(l.Normal) + len(l.Protected)
}

func groupResources(resources []*models.Resource) *ResourceList {
	list := &ResourceList{}
	for _, r := range resources {
		switch r.Mode {
		case models.ResourceModeProtected:
			list.Protected = append(list.Protected, r)
		default:
			list.Normal = append(list.Normal, r)
		}
	}
	return list
}
