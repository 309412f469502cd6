package protect

import (
	"context"
	"errors"
	"strings"

	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/models"
	"github.com/odysseia/protect/src/oops"
	"github.com/odysseia/protect/src/perf"
	"github.com/odysseia/protect/src/store"
)

// Service is the entry point for the command layer. It applies the
// per-user rules (privacy consent, thread ownership) and delegates to the
// gate, resolver and coordinator.
type Service struct {
	Store       store.Store
	Platform    Platform
	Gate        *Gate
	Resolver    *Resolver
	Coordinator *Coordinator

	MaxUploadBytes int64
}

type ServiceConfig struct {
	WarehouseChannelID string
	MaxUploadBytes     int64
}

func NewService(s store.Store, platform Platform, cfg ServiceConfig) *Service {
	return &Service{
		Store:          s,
		Platform:       platform,
		Gate:           NewGate(s, platform),
		Resolver:       NewResolver(s, platform, platform),
		Coordinator:    NewCoordinator(s, platform, platform, cfg.WarehouseChannelID),
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
}

func (s *Service) NeedsConsent(ctx context.Context, userID string) (bool, error) {
	user, err := s.Store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return ConsentRequired(user), nil
}

func (s *Service) AcceptPrivacyPolicy(ctx context.Context, userID string) error {
	_, err := s.Store.AcceptPrivacyPolicy(ctx, userID)
	return err
}

// authorizeUpload enforces consent and ownership for anything that adds to a
// thread. An unindexed thread may be claimed by its platform owner, or by
// anyone if the owner is unknown.
func (s *Service) authorizeUpload(ctx context.Context, requesterID, publicThreadID, threadOwnerID string) error {
	needsConsent, err := s.NeedsConsent(ctx, requesterID)
	if err != nil {
		return err
	}
	if needsConsent {
		return ErrConsentRequired
	}

	thread, err := s.Store.GetThreadByPublicID(ctx, publicThreadID)
	if errors.Is(err, NotFound) {
		if threadOwnerID != "" && threadOwnerID != requesterID {
			return ErrNotAuthor
		}
		return nil
	} else if err != nil {
		return err
	}
	if !thread.IsAuthor(requesterID) {
		return ErrNotAuthor
	}
	return nil
}

type UploadProtectedRequest struct {
	RequesterID    string
	PublicThreadID string
	ThreadTitle    string
	ThreadOwnerID  string

	Attachment PlatformAttachment
	Version    string
	Password   string
}

// UploadProtected mirrors an uploaded attachment into the archive thread.
func (s *Service) UploadProtected(ctx context.Context, req UploadProtectedRequest) (*models.Resource, error) {
	if err := s.authorizeUpload(ctx, req.RequesterID, req.PublicThreadID, req.ThreadOwnerID); err != nil {
		return nil, err
	}

	file, err := s.fetchAttachment(ctx, req.Attachment)
	if err != nil {
		return nil, err
	}

	return s.Coordinator.CreateProtected(ctx, CreateProtectedInput{
		PublicThreadID: req.PublicThreadID,
		ThreadTitle:    req.ThreadTitle,
		AuthorID:       req.RequesterID,
		File:           file,
		Version:        req.Version,
		Password:       optionalPassword(req.Password),
	})
}

type UploadNormalRequest struct {
	RequesterID    string
	PublicThreadID string
	ThreadOwnerID  string

	// A message link, possibly with text around it.
	MessageLink string
	Version     string
}

// UploadNormal indexes an existing message in the thread without copying it.
func (s *Service) UploadNormal(ctx context.Context, req UploadNormalRequest) (*models.Resource, error) {
	if err := s.authorizeUpload(ctx, req.RequesterID, req.PublicThreadID, req.ThreadOwnerID); err != nil {
		return nil, err
	}

	link, err := ParseMessageLink(req.MessageLink)
	if err != nil {
		return nil, err
	}
	if link.ChannelID != req.PublicThreadID {
		return nil, ErrMessageOutsideThread
	}

	msg, err := s.Platform.GetMessage(ctx, link.ChannelID, link.MessageID)
	if errors.Is(err, ErrPlatformNotFound) {
		return nil, &Unavailable{Reason: ReasonMessageNotFound, Cause: err}
	} else if err != nil {
		return nil, oops.New(err, "failed to fetch linked message %s", link.MessageID)
	}

	thread, err := s.Store.UpsertThread(ctx, req.PublicThreadID, req.RequesterID)
	if err != nil {
		return nil, err
	}
	resource, err := s.Store.CreateResource(ctx, thread.ID, models.ResourceModeNormal, store.ResourceDescriptor{
		Filename:         DeriveFilename(msg, req.Version),
		Version:          req.Version,
		CarrierMessageID: msg.ID,
	})
	if err != nil {
		return nil, err
	}
	resourceChanges.WithLabelValues(string(resource.Mode), "create").Inc()
	return resource, nil
}

type ArchiveMessageRequest struct {
	RequesterID    string
	PublicThreadID string
	ThreadTitle    string
	ThreadOwnerID  string
	MessageID      string
	Version        string
}

type ArchiveMessageResult struct {
	Resource        *models.Resource
	OriginalDeleted bool
}

// ArchiveMessage mirrors the first attachment of a message in the public
// thread as a protected resource. With quick mode on, the public original is
// deleted afterwards on a best-effort basis.
func (s *Service) ArchiveMessage(ctx context.Context, req ArchiveMessageRequest) (*ArchiveMessageResult, error) {
	if err := s.authorizeUpload(ctx, req.RequesterID, req.PublicThreadID, req.ThreadOwnerID); err != nil {
		return nil, err
	}

	msg, err := s.Platform.GetMessage(ctx, req.PublicThreadID, req.MessageID)
	if errors.Is(err, ErrPlatformNotFound) {
		return nil, &Unavailable{Reason: ReasonMessageNotFound, Cause: err}
	} else if err != nil {
		return nil, oops.New(err, "failed to fetch message %s", req.MessageID)
	}
	if len(msg.Attachments) == 0 {
		return nil, &Unavailable{Reason: ReasonAttachmentMissing, Cause: ErrNoAttachment}
	}

	file, err := s.fetchAttachment(ctx, msg.Attachments[0])
	if err != nil {
		return nil, err
	}

	resource, err := s.Coordinator.CreateProtected(ctx, CreateProtectedInput{
		PublicThreadID: req.PublicThreadID,
		ThreadTitle:    req.ThreadTitle,
		AuthorID:       req.RequesterID,
		File:           file,
		Version:        req.Version,
	})
	if err != nil {
		return nil, err
	}

	result := &ArchiveMessageResult{Resource: resource}

	thread, err := s.Store.GetThread(ctx, resource.ThreadID)
	if err != nil {
		return nil, err
	}
	if thread.QuickModeEnabled {
		err := s.Platform.DeleteMessage(ctx, req.PublicThreadID, req.MessageID)
		if err != nil && !errors.Is(err, ErrPlatformNotFound) {
			logging.ExtractLogger(ctx).Warn().Err(err).
				Str("thread", req.PublicThreadID).
				Str("message", req.MessageID).
				Msg("quick mode could not delete the original message")
		} else {
			result.OriginalDeleted = true
		}
	}

	return result, nil
}

func (s *Service) fetchAttachment(ctx context.Context, attachment PlatformAttachment) (File, error) {
	if attachment.URL == "" {
		return File{}, ErrEmptyFile
	}
	if s.MaxUploadBytes > 0 && int64(attachment.Size) > s.MaxUploadBytes {
		return File{}, ErrFileTooLarge
	}

	b := perf.ExtractPerf(ctx).StartBlock("PLATFORM", "Download attachment")
	data, err := s.Platform.DownloadAttachment(ctx, attachment.URL, s.MaxUploadBytes)
	b.End()
	if err != nil {
		return File{}, err
	}
	if len(data) == 0 {
		return File{}, ErrEmptyFile
	}

	return File{
		Name:        attachment.Filename,
		ContentType: attachment.ContentType,
		Data:        data,
	}, nil
}

// ListResources returns the thread and its resources. NotFound if the thread
// has never been indexed.
func (s *Service) ListResources(ctx context.Context, publicThreadID string) (*models.Thread, *store.ResourceList, error) {
	thread, err := s.Store.GetThreadByPublicID(ctx, publicThreadID)
	if err != nil {
		return nil, nil, err
	}
	list, err := s.Store.ListResources(ctx, thread.ID)
	if err != nil {
		return nil, nil, err
	}
	return thread, list, nil
}

type DownloadRequest struct {
	RequesterID string
	ResourceID  int
	Password    *string
}

// Download runs the gate and, if it passes, resolves a fresh link.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (*Link, error) {
	grant, err := s.Gate.Check(ctx, GateRequest{
		RequesterID: req.RequesterID,
		ResourceID:  req.ResourceID,
		Password:    req.Password,
	})
	if err != nil {
		return nil, err
	}

	link, err := s.Resolver.Resolve(ctx, grant)
	if err != nil {
		return nil, err
	}

	if err := s.Store.IncrementDownloadCount(ctx, link.Resource.ID); err != nil {
		logging.ExtractLogger(ctx).Warn().Err(err).Int("resource", link.Resource.ID).Msg("failed to count download")
	} else {
		link.Resource.DownloadCount++
	}

	return link, nil
}

// authorizeManage loads a resource and its thread and checks that the
// requester owns the thread.
func (s *Service) authorizeManage(ctx context.Context, requesterID string, resourceID int) (*models.Resource, *models.Thread, error) {
	resource, err := s.Store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, nil, err
	}
	thread, err := s.Store.GetThread(ctx, resource.ThreadID)
	if err != nil {
		return nil, nil, err
	}
	if !thread.IsAuthor(requesterID) {
		return nil, nil, ErrNotAuthor
	}
	return resource, thread, nil
}

func (s *Service) authorizeThread(ctx context.Context, requesterID, publicThreadID string) (*models.Thread, error) {
	thread, err := s.Store.GetThreadByPublicID(ctx, publicThreadID)
	if err != nil {
		return nil, err
	}
	if !thread.IsAuthor(requesterID) {
		return nil, ErrNotAuthor
	}
	return thread, nil
}

type UpdateResourceRequest struct {
	RequesterID string
	ResourceID  int
	Version     *string

	// Nil leaves the password alone; a pointer to "" removes it.
	Password *string
}

func (s *Service) UpdateResource(ctx context.Context, req UpdateResourceRequest) (*models.Resource, error) {
	resource, _, err := s.authorizeManage(ctx, req.RequesterID, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if req.Password != nil && *req.Password != "" && !resource.IsProtected() {
		return nil, ErrPasswordOnNormal
	}

	update := store.ResourceUpdate{Version: req.Version}
	if req.Password != nil {
		if *req.Password == "" {
			update.Password = store.ClearPassword()
		} else {
			update.Password = store.SetPassword(*req.Password)
		}
	}
	return s.Store.UpdateResource(ctx, req.ResourceID, update)
}

func (s *Service) DeleteResource(ctx context.Context, requesterID string, resourceID int) (*models.Resource, error) {
	if _, _, err := s.authorizeManage(ctx, requesterID, resourceID); err != nil {
		return nil, err
	}
	return s.Coordinator.DeleteResource(ctx, resourceID)
}

// SetReactionWall turns the wall on or off. An empty emoji means any
// reaction counts.
func (s *Service) SetReactionWall(ctx context.Context, requesterID, publicThreadID string, enabled bool, emoji string) (*models.Thread, error) {
	thread, err := s.authorizeThread(ctx, requesterID, publicThreadID)
	if err != nil {
		return nil, err
	}

	var required *string
	if enabled && strings.TrimSpace(emoji) != "" {
		normalized, err := NormalizeEmoji(emoji)
		if err != nil {
			return nil, err
		}
		required = &normalized
	}
	return s.Store.SetReactionWall(ctx, thread.ID, enabled, required)
}

func (s *Service) SetQuickMode(ctx context.Context, requesterID, publicThreadID string, enabled bool) (*models.Thread, error) {
	thread, err := s.authorizeThread(ctx, requesterID, publicThreadID)
	if err != nil {
		return nil, err
	}
	return s.Store.SetQuickMode(ctx, thread.ID, enabled)
}

func optionalPassword(password string) *string {
	if password == "" {
		return nil
	}
	return &password
}
