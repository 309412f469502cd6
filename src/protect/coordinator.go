package protect

import (
	"context"
	"errors"

	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/models"
	"github.com/odysseia/protect/src/oops"
	"github.com/odysseia/protect/src/perf"
	"github.com/odysseia/protect/src/store"
	"github.com/odysseia/protect/src/utils"
)

// Coordinator sequences the operations that touch both the index and the
// platform. There is no shared transaction, so the order of steps is what
// keeps the two consistent:
//
//   - create: archive message first, index row second
//   - delete: index row first, archive message second
//
// A failure between the two steps is reported as a *PartialFailure and
// recorded for an operator. Nothing is rolled back automatically.
type Coordinator struct {
	store              store.Store
	platform           PlatformAttachments
	provisioning       ThreadProvisioning
	warehouseChannelID string
}

func NewCoordinator(s store.Store, platform PlatformAttachments, provisioning ThreadProvisioning, warehouseChannelID string) *Coordinator {
	return &Coordinator{
		store:              s,
		platform:           platform,
		provisioning:       provisioning,
		warehouseChannelID: warehouseChannelID,
	}
}

type CreateProtectedInput struct {
	PublicThreadID string
	ThreadTitle    string
	AuthorID       string

	File     File
	Version  string
	Password *string
}

func (c *Coordinator) CreateProtected(ctx context.Context, in CreateProtectedInput) (*models.Resource, error) {
	if c.warehouseChannelID == "" {
		return nil, ErrWarehouseNotConfigured
	}

	thread, err := c.store.UpsertThread(ctx, in.PublicThreadID, in.AuthorID)
	if err != nil {
		return nil, err
	}
	thread, err = c.ensureArchiveThread(ctx, thread, in.ThreadTitle)
	if err != nil {
		return nil, err
	}
	archiveThreadID := *thread.ArchiveThreadID

	b := perf.ExtractPerf(ctx).StartBlock("PLATFORM", "Post archive message")
	messageID, err := c.platform.CreateMessageWithFile(ctx, archiveThreadID, in.File)
	b.End()
	if err != nil {
		// Nothing has been committed on either side yet.
		return nil, oops.New(err, "failed to post archive message to %s", archiveThreadID)
	}

	resource, err := c.store.CreateResource(ctx, thread.ID, models.ResourceModeProtected, store.ResourceDescriptor{
		Filename:         in.File.Name,
		Version:          in.Version,
		Password:         in.Password,
		CarrierMessageID: messageID,
	})
	if err != nil {
		return nil, c.partialFailure(ctx, &PartialFailure{
			Stage:           models.StageIndexRow,
			Cause:           err,
			PublicThreadID:  thread.PublicThreadID,
			ArchiveThreadID: archiveThreadID,
			MessageID:       messageID,
		})
	}

	resourceChanges.WithLabelValues(string(resource.Mode), "create").Inc()
	logging.ExtractLogger(ctx).Info().
		Int("resource", resource.ID).
		Str("thread", thread.PublicThreadID).
		Str("archive thread", archiveThreadID).
		Str("message", messageID).
		Msg("protected resource created")

	return resource, nil
}

// ensureArchiveThread provisions and pairs an archive thread if the thread
// has none. If a concurrent request pairs first, its archive thread wins and
// ours is recorded as an orphan.
func (c *Coordinator) ensureArchiveThread(ctx context.Context, thread *models.Thread, title string) (*models.Thread, error) {
	if thread.HasArchive() {
		return thread, nil
	}

	b := perf.ExtractPerf(ctx).StartBlock("PLATFORM", "Create archive thread")
	archiveThreadID, err := c.provisioning.CreateArchiveThread(ctx, c.warehouseChannelID, ArchiveThreadTitle(title, thread.PublicThreadID))
	b.End()
	if err != nil {
		return nil, oops.New(err, "failed to create archive thread for %s", thread.PublicThreadID)
	}

	paired, err := c.store.AttachArchiveThread(ctx, thread.ID, archiveThreadID)
	if err == nil {
		return paired, nil
	}
	if !errors.Is(err, InvariantViolation) {
		return nil, c.partialFailure(ctx, &PartialFailure{
			Stage:           models.StageArchivePairing,
			Cause:           err,
			PublicThreadID:  thread.PublicThreadID,
			ArchiveThreadID: archiveThreadID,
		})
	}

	current, getErr := c.store.GetThread(ctx, thread.ID)
	if getErr != nil || !current.HasArchive() {
		return nil, err
	}
	c.partialFailure(ctx, &PartialFailure{
		Stage:           models.StageArchivePairing,
		Cause:           err,
		PublicThreadID:  thread.PublicThreadID,
		ArchiveThreadID: archiveThreadID,
	})
	return current, nil
}

// DeleteResource removes a resource. The index row goes first; if this
// caller did not get the row (it never existed or a concurrent delete won)
// the platform is never touched.
func (c *Coordinator) DeleteResource(ctx context.Context, resourceID int) (*models.Resource, error) {
	resource, err := c.store.DeleteResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	resourceChanges.WithLabelValues(string(resource.Mode), "delete").Inc()

	// Normal resources point at someone's public message, which is never ours to delete.
	if !resource.IsProtected() {
		return resource, nil
	}

	thread, err := c.store.GetThread(ctx, resource.ThreadID)
	if err != nil {
		return nil, c.partialFailure(ctx, &PartialFailure{
			Stage:      models.StageArchiveDelete,
			Cause:      err,
			MessageID:  resource.CarrierMessageID,
			ResourceID: resource.ID,
		})
	}
	archiveThreadID := utils.Deref(thread.ArchiveThreadID)

	b := perf.ExtractPerf(ctx).StartBlock("PLATFORM", "Delete archive message")
	err = c.platform.DeleteMessage(ctx, archiveThreadID, resource.CarrierMessageID)
	b.End()
	if errors.Is(err, ErrPlatformNotFound) {
		logging.ExtractLogger(ctx).Debug().
			Int("resource", resource.ID).
			Str("message", resource.CarrierMessageID).
			Msg("archive message was already gone")
	} else if err != nil {
		return nil, c.partialFailure(ctx, &PartialFailure{
			Stage:           models.StageArchiveDelete,
			Cause:           err,
			PublicThreadID:  thread.PublicThreadID,
			ArchiveThreadID: archiveThreadID,
			MessageID:       resource.CarrierMessageID,
			ResourceID:      resource.ID,
		})
	}

	return resource, nil
}

// partialFailure logs pf and records it for repair. Recording must survive
// the request being canceled, since the half-done state already exists.
func (c *Coordinator) partialFailure(ctx context.Context, pf *PartialFailure) *PartialFailure {
	partialFailures.WithLabelValues(string(pf.Stage)).Inc()

	logger := logging.ExtractLogger(ctx)
	logger.Error().Err(pf.Cause).
		Str("stage", string(pf.Stage)).
		Str("thread", pf.PublicThreadID).
		Str("archive thread", pf.ArchiveThreadID).
		Str("message", pf.MessageID).
		Int("resource", pf.ResourceID).
		Msg("operation only partially completed")

	item := models.ReconciliationItem{
		Stage:           pf.Stage,
		PublicThreadID:  pf.PublicThreadID,
		ArchiveThreadID: pf.ArchiveThreadID,
		Cause:           pf.Cause.Error(),
	}
	if pf.MessageID != "" {
		item.MessageID = &pf.MessageID
	}
	if pf.ResourceID != 0 {
		item.ResourceID = &pf.ResourceID
	}

	recorded, err := c.store.RecordReconciliation(context.WithoutCancel(ctx), item)
	if err != nil {
		logger.Error().Err(err).Str("stage", string(pf.Stage)).Msg("failed to record reconciliation item")
	} else {
		pf.ReconciliationID = recorded.ID
	}

	return pf
}

// ArchiveThreadTitle names the archive thread after its public thread.
func ArchiveThreadTitle(publicTitle, publicThreadID string) string {
	name := publicTitle
	if name == "" {
		name = publicThreadID
	}
	return utils.Truncate("📦 Archive | "+name, 99, "…")
}
