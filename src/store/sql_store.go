package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/odysseia/protect/src/db"
	"github.com/odysseia/protect/src/models"
	"github.com/odysseia/protect/src/oops"
)

// sqlStore implements Store for any backend that speaks the small SQL subset
// shared by Postgres and SQLite (upserts and RETURNING). Queries are written
// with $? placeholders and bound to the backend's style.
type sqlStore struct {
	q                 db.Queryer
	style             db.PlaceholderStyle
	isUniqueViolation func(error) bool
	close             func()

	now func() time.Time
}

func (s *sqlStore) bind(query string) string {
	var b strings.Builder
	n := 0
	for {
		i := strings.Index(query, "$?")
		if i < 0 {
			b.WriteString(query)
			break
		}
		n++
		b.WriteString(query[:i])
		if s.style == db.Dollar {
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteString("?")
		}
		query = query[i+2:]
	}
	return b.String()
}

func (s *sqlStore) timestamp() time.Time {
	return s.now().UTC()
}

func (s *sqlStore) Close() {
	if s.close != nil {
		s.close()
	}
}

func (s *sqlStore) UpsertThread(ctx context.Context, publicThreadID, authorID string) (*models.Thread, error) {
	thread, err := db.QueryOne[models.Thread](ctx, s.q, s.bind(`
		---- Upsert thread
		INSERT INTO thread (public_thread_id, author_id, reaction_required, quick_mode_enabled, created_at)
		VALUES ($?, $?, FALSE, FALSE, $?)
		ON CONFLICT (public_thread_id) DO UPDATE
			SET public_thread_id = excluded.public_thread_id
		RETURNING $columns
		`),
		publicThreadID, authorID, s.timestamp(),
	)
	if err != nil {
		return nil, oops.New(err, "failed to upsert thread %s", publicThreadID)
	}
	return thread, nil
}

func (s *sqlStore) GetThread(ctx context.Context, id int) (*models.Thread, error) {
	thread, err := db.QueryOne[models.Thread](ctx, s.q, s.bind(`
		---- Get thread
		SELECT $columns
		FROM thread
		WHERE id = $?
		`),
		id,
	)
	if errors.Is(err, db.NotFound) {
		return nil, NotFound
	} else if err != nil {
		return nil, oops.New(err, "failed to fetch thread %d", id)
	}
	return thread, nil
}

func (s *sqlStore) GetThreadByPublicID(ctx context.Context, publicThreadID string) (*models.Thread, error) {
	thread, err := db.QueryOne[models.Thread](ctx, s.q, s.bind(`
		---- Get thread by public id
		SELECT $columns
		FROM thread
		WHERE public_thread_id = $?
		`),
		publicThreadID,
	)
	if errors.Is(err, db.NotFound) {
		return nil, NotFound
	} else if err != nil {
		return nil, oops.New(err, "failed to fetch thread %s", publicThreadID)
	}
	return thread, nil
}

func (s *sqlStore) AttachArchiveThread(ctx context.Context, threadID int, archiveThreadID string) (*models.Thread, error) {
	if archiveThreadID == "" {
		return nil, oops.New(InvariantViolation, "cannot pair thread %d with an empty archive thread id", threadID)
	}

	// The IS NULL guard makes the pairing a compare-and-set, so only one
	// writer can ever win it.
	thread, err := db.QueryOne[models.Thread](ctx, s.q, s.bind(`
		---- Attach archive thread
		UPDATE thread
		SET archive_thread_id = $?
		WHERE
			id = $?
			AND archive_thread_id IS NULL
		RETURNING $columns
		`),
		archiveThreadID, threadID,
	)
	if err == nil {
		return thread, nil
	} else if s.isUniqueViolation(err) {
		return nil, oops.New(InvariantViolation, "archive thread %s is already paired with another thread", archiveThreadID)
	} else if !errors.Is(err, db.NotFound) {
		return nil, oops.New(err, "failed to pair thread %d with archive thread %s", threadID, archiveThreadID)
	}

	existing, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if existing.ArchiveThreadID != nil && *existing.ArchiveThreadID == archiveThreadID {
		return existing, nil
	}
	return nil, oops.New(InvariantViolation, "thread %d is already paired with archive thread %s", threadID, *existing.ArchiveThreadID)
}

func (s *sqlStore) SetReactionWall(ctx context.Context, threadID int, enabled bool, emoji *string) (*models.Thread, error) {
	thread, err := db.QueryOne[models.Thread](ctx, s.q, s.bind(`
		---- Set reaction wall
		UPDATE thread
		SET
			reaction_required = $?,
			required_emoji = $?
		WHERE id = $?
		RETURNING $columns
		`),
		enabled, emoji, threadID,
	)
	if errors.Is(err, db.NotFound) {
		return nil, NotFound
	} else if err != nil {
		return nil, oops.New(err, "failed to update reaction wall of thread %d", threadID)
	}
	return thread, nil
}

func (s *sqlStore) SetQuickMode(ctx context.Context, threadID int, enabled bool) (*models.Thread, error) {
	thread, err := db.QueryOne[models.Thread](ctx, s.q, s.bind(`
		---- Set quick mode
		UPDATE thread
		SET quick_mode_enabled = $?
		WHERE id = $?
		RETURNING $columns
		`),
		enabled, threadID,
	)
	if errors.Is(err, db.NotFound) {
		return nil, NotFound
	} else if err != nil {
		return nil, oops.New(err, "failed to update quick mode of thread %d", threadID)
	}
	return thread, nil
}

func (s *sqlStore) CreateResource(ctx context.Context, threadID int, mode models.ResourceMode, desc ResourceDescriptor) (*models.Resource, error) {
	if !mode.Valid() {
		return nil, oops.New(InvariantViolation, "unknown resource mode %q", mode)
	}
	if desc.CarrierMessageID == "" {
		return nil, oops.New(InvariantViolation, "resource has no carrier message")
	}

	// Pairings are never removed, so checking before inserting is enough.
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if mode == models.ResourceModeProtected && !thread.HasArchive() {
		return nil, oops.New(InvariantViolation, "thread %d has no archive thread for a protected resource", threadID)
	}

	version := versionOrDefault(desc.Version)

	resource, err := db.QueryOne[models.Resource](ctx, s.q, s.bind(`
		---- Create resource
		INSERT INTO resource (thread_id, mode, version, filename, carrier_message_id, password, download_count, created_at)
		VALUES ($?, $?, $?, $?, $?, $?, 0, $?)
		RETURNING $columns
		`),
		threadID, string(mode), version, desc.Filename, desc.CarrierMessageID, desc.Password, s.timestamp(),
	)
	if err != nil {
		return nil, oops.New(err, "failed to create resource on thread %d", threadID)
	}
	if err := resource.Validate(thread); err != nil {
		return nil, oops.New(InvariantViolation, "created invalid resource: %v", err)
	}
	return resource, nil
}

func (s *sqlStore) GetResource(ctx context.Context, id int) (*models.Resource, error) {
	resource, err := db.QueryOne[models.Resource](ctx, s.q, s.bind(`
		---- Get resource
		SELECT $columns
		FROM resource
		WHERE id = $?
		`),
		id,
	)
	if errors.Is(err, db.NotFound) {
		return nil, NotFound
	} else if err != nil {
		return nil, oops.New(err, "failed to fetch resource %d", id)
	}
	return resource, nil
}

func (s *sqlStore) ListResources(ctx context.Context, threadID int) (*ResourceList, error) {
	resources, err := db.Query[models.Resource](ctx, s.q, s.bind(`
		---- List resources
		SELECT $columns
		FROM resource
		WHERE thread_id = $?
		ORDER BY created_at ASC, id ASC
		`),
		threadID,
	)
	if err != nil {
		return nil, oops.New(err, "failed to list resources of thread %d", threadID)
	}
	return groupResources(resources), nil
}

func (s *sqlStore) UpdateResource(ctx context.Context, id int, update ResourceUpdate) (*models.Resource, error) {
	if update.Empty() {
		return s.GetResource(ctx, id)
	}

	qb := db.QueryBuilder{Style: s.style}
	qb.Add(`
		---- Update resource
		UPDATE resource
		SET
	`)
	var sets []string
	var args []interface{}
	if update.Version != nil {
		sets = append(sets, "version = $?")
		args = append(args, versionOrDefault(*update.Version))
	}
	if update.Password != nil {
		sets = append(sets, "password = $?")
		args = append(args, *update.Password)
	}
	qb.Add(strings.Join(sets, ", "), args...)
	qb.Add(`WHERE id = $? RETURNING $columns`, id)

	resource, err := db.QueryOne[models.Resource](ctx, s.q, qb.String(), qb.Args()...)
	if errors.Is(err, db.NotFound) {
		return nil, NotFound
	} else if err != nil {
		return nil, oops.New(err, "failed to update resource %d", id)
	}
	return resource, nil
}

func (s *sqlStore) DeleteResource(ctx context.Context, id int) (*models.Resource, error) {
	resource, err := db.QueryOne[models.Resource](ctx, s.q, s.bind(`
		---- Delete resource
		DELETE FROM resource
		WHERE id = $?
		RETURNING $columns
		`),
		id,
	)
	if errors.Is(err, db.NotFound) {
		return nil, NotFound
	} else if err != nil {
		return nil, oops.New(err, "failed to delete resource %d", id)
	}
	return resource, nil
}

func (s *sqlStore) IncrementDownloadCount(ctx context.Context, id int) error {
	_, err := db.QueryOneScalar[int](ctx, s.q, s.bind(`
		---- Increment download count
		UPDATE resource
		SET download_count = download_count + 1
		WHERE id = $?
		RETURNING download_count
		`),
		id,
	)
	if errors.Is(err, db.NotFound) {
		return NotFound
	} else if err != nil {
		return oops.New(err, "failed to count download of resource %d", id)
	}
	return nil
}

func (s *sqlStore) GetOrCreateUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := db.QueryOne[models.User](ctx, s.q, s.bind(`
		---- Get or create user
		INSERT INTO app_user (id, has_accepted_privacy_policy, created_at)
		VALUES ($?, FALSE, $?)
		ON CONFLICT (id) DO UPDATE
			SET id = excluded.id
		RETURNING $columns
		`),
		userID, s.timestamp(),
	)
	if err != nil {
		return nil, oops.New(err, "failed to fetch user %s", userID)
	}
	return user, nil
}

func (s *sqlStore) AcceptPrivacyPolicy(ctx context.Context, userID string) (*models.User, error) {
	user, err := db.QueryOne[models.User](ctx, s.q, s.bind(`
		---- Accept privacy policy
		INSERT INTO app_user (id, has_accepted_privacy_policy, created_at)
		VALUES ($?, TRUE, $?)
		ON CONFLICT (id) DO UPDATE
			SET has_accepted_privacy_policy = TRUE
		RETURNING $columns
		`),
		userID, s.timestamp(),
	)
	if err != nil {
		return nil, oops.New(err, "failed to record privacy policy consent for user %s", userID)
	}
	return user, nil
}

func (s *sqlStore) RecordReconciliation(ctx context.Context, item models.ReconciliationItem) (*models.ReconciliationItem, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	recorded, err := db.QueryOne[models.ReconciliationItem](ctx, s.q, s.bind(`
		---- Record reconciliation item
		INSERT INTO reconciliation_item (id, stage, public_thread_id, archive_thread_id, message_id, resource_id, cause, created_at)
		VALUES ($?, $?, $?, $?, $?, $?, $?, $?)
		RETURNING $columns
		`),
		item.ID.String(), string(item.Stage), item.PublicThreadID, item.ArchiveThreadID,
		item.MessageID, item.ResourceID, item.Cause, s.timestamp(),
	)
	if err != nil {
		return nil, oops.New(err, "failed to record reconciliation item for stage %s", item.Stage)
	}
	return recorded, nil
}

func (s *sqlStore) ListReconciliation(ctx context.Context, includeResolved bool) ([]*models.ReconciliationItem, error) {
	items, err := db.Query[models.ReconciliationItem](ctx, s.q, s.bind(`
		---- List reconciliation items
		SELECT $columns
		FROM reconciliation_item
		WHERE
			resolved_at IS NULL
			OR $?
		ORDER BY created_at ASC
		`),
		includeResolved,
	)
	if err != nil {
		return nil, oops.New(err, "failed to list reconciliation items")
	}
	return items, nil
}

func (s *sqlStore) ResolveReconciliation(ctx context.Context, id uuid.UUID) (*models.ReconciliationItem, error) {
	item, err := db.QueryOne[models.ReconciliationItem](ctx, s.q, s.bind(`
		---- Resolve reconciliation item
		UPDATE reconciliation_item
		SET resolved_at = COALESCE(resolved_at, $?)
		WHERE id = $?
		RETURNING $columns
		`),
		s.timestamp(), id.String(),
	)
	if errors.Is(err, db.NotFound) {
		return nil, NotFound
	} else if err != nil {
		return nil, oops.New(err, "failed to resolve reconciliation item %s", id)
	}
	return item, nil
}

func versionOrDefault(version string) string {
	if version = strings.TrimSpace(version); version == "" {
		return models.DefaultVersion
	}
	return version
}
