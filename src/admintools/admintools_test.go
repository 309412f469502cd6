package admintools

import (
	"bytes"
	"context"
	"testing"

	"github.com/odysseia/protect/src/models"
	"github.com/odysseia/protect/src/protect"
	"github.com/odysseia/protect/src/store"
	"github.com/odysseia/protect/src/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deletingPlatform struct {
	protect.PlatformAttachments
	existing map[string]bool
	deleted  []string
}

func (p *deletingPlatform) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	if !p.existing[messageID] {
		return protect.ErrPlatformNotFound
	}
	delete(p.existing, messageID)
	p.deleted = append(p.deleted, threadID+"/"+messageID)
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	require.Nil(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var out bytes.Buffer
	require.Nil(t, ListReconciliation(ctx, s, &out, false))
	assert.Contains(t, out.String(), "Nothing to reconcile")

	orphan, err := s.RecordReconciliation(ctx, models.ReconciliationItem{
		Stage:           models.StageIndexRow,
		PublicThreadID:  "public",
		ArchiveThreadID: "archive",
		MessageID:       utils.P("orphan"),
		Cause:           "database is locked",
	})
	require.Nil(t, err)
	gone, err := s.RecordReconciliation(ctx, models.ReconciliationItem{
		Stage:           models.StageIndexRow,
		PublicThreadID:  "public",
		ArchiveThreadID: "archive",
		MessageID:       utils.P("gone"),
		Cause:           "database is locked",
	})
	require.Nil(t, err)

	out.Reset()
	require.Nil(t, ListReconciliation(ctx, s, &out, false))
	assert.Contains(t, out.String(), orphan.ID.String())
	assert.Contains(t, out.String(), "message orphan")
	assert.Contains(t, out.String(), "database is locked")

	platform := &deletingPlatform{existing: map[string]bool{"orphan": true}}

	out.Reset()
	require.Nil(t, ResolveReconciliation(ctx, s, platform, &out, orphan.ID))
	assert.Equal(t, []string{"archive/orphan"}, platform.deleted)
	assert.Contains(t, out.String(), "Deleted message orphan")

	out.Reset()
	require.Nil(t, ResolveReconciliation(ctx, s, platform, &out, gone.ID))
	assert.Contains(t, out.String(), "already gone")

	items, err := s.ListReconciliation(ctx, false)
	require.Nil(t, err)
	assert.Empty(t, items)

	out.Reset()
	require.Nil(t, ListReconciliation(ctx, s, &out, true))
	assert.Contains(t, out.String(), "resolved")
}

func TestResolveUnknownItem(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	item := models.ReconciliationItem{}
	err := ResolveReconciliation(ctx, s, &deletingPlatform{}, &bytes.Buffer{}, item.ID)
	assert.ErrorIs(t, err, store.NotFound)
}

func TestShowThread(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	thread, err := s.UpsertThread(ctx, "public", "author")
	require.Nil(t, err)
	thread, err = s.AttachArchiveThread(ctx, thread.ID, "archive")
	require.Nil(t, err)
	_, err = s.SetReactionWall(ctx, thread.ID, true, nil)
	require.Nil(t, err)
	_, err = s.CreateResource(ctx, thread.ID, models.ResourceModeProtected, store.ResourceDescriptor{
		Filename:         "mod.zip",
		Version:          "1.0",
		Password:         utils.P("pw"),
		CarrierMessageID: "copy",
	})
	require.Nil(t, err)

	var out bytes.Buffer
	require.Nil(t, ShowThread(ctx, s, &out, "public"))
	assert.Contains(t, out.String(), "archive thread: archive")
	assert.Contains(t, out.String(), "reaction wall:  any emoji")
	assert.Contains(t, out.String(), "protected mod.zip (1.0) carrier copy, 0 downloads, password")

	assert.ErrorIs(t, ShowThread(ctx, s, &out, "unknown"), store.NotFound)
}
