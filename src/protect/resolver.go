package protect

import (
	"context"
	"errors"

	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/models"
	"github.com/odysseia/protect/src/oops"
	"github.com/odysseia/protect/src/perf"
	"github.com/odysseia/protect/src/store"
)

var ErrGrantUsed = errors.New("grant has already been used")

// A Link is a freshly fetched, short-lived download URL. It must be handed
// to the requester right away and never stored.
type Link struct {
	Resource *models.Resource
	URL      string

	// False when a normal resource had no attachment and URL points at the
	// message itself.
	IsAttachment bool
}

// Resolver turns a grant into a download link by re-reading the carrier
// message from the platform on every call.
type Resolver struct {
	store    store.Store
	platform PlatformAttachments
	lookup   MessageLookup
}

func NewResolver(s store.Store, platform PlatformAttachments, lookup MessageLookup) *Resolver {
	return &Resolver{store: s, platform: platform, lookup: lookup}
}

func (r *Resolver) Resolve(ctx context.Context, grant *Grant) (*Link, error) {
	if grant == nil || !grant.Consume() {
		return nil, ErrGrantUsed
	}

	// The row may have been deleted since the grant was issued.
	resource, err := r.store.GetResource(ctx, grant.ResourceID)
	if err != nil {
		return nil, err
	}
	thread, err := r.store.GetThread(ctx, resource.ThreadID)
	if err != nil {
		return nil, err
	}
	if err := resource.Validate(thread); err != nil {
		return nil, oops.New(InvariantViolation, "%v", err)
	}

	channelID := resource.CarrierChannelID(thread)
	mode := string(resource.Mode)

	b := perf.ExtractPerf(ctx).StartBlock("PLATFORM", "Fetch fresh URL")
	url, err := r.platform.GetFreshURL(ctx, channelID, resource.CarrierMessageID)
	b.End()

	switch {
	case err == nil:
		resolutions.WithLabelValues(mode, "ok").Inc()
		return &Link{Resource: resource, URL: url, IsAttachment: true}, nil
	case errors.Is(err, ErrPlatformNotFound):
		resolutions.WithLabelValues(mode, string(ReasonMessageNotFound)).Inc()
		logging.ExtractLogger(ctx).Warn().
			Int("resource", resource.ID).
			Str("channel", channelID).
			Str("message", resource.CarrierMessageID).
			Msg("carrier message is gone")
		return nil, &Unavailable{Reason: ReasonMessageNotFound, ResourceID: resource.ID, Cause: err}
	case errors.Is(err, ErrNoAttachment) && resource.IsProtected():
		resolutions.WithLabelValues(mode, string(ReasonAttachmentMissing)).Inc()
		return nil, &Unavailable{Reason: ReasonAttachmentMissing, ResourceID: resource.ID, Cause: err}
	case errors.Is(err, ErrNoAttachment):
		// Normal resources can point at plain text messages.
		msg, err := r.lookup.GetMessage(ctx, channelID, resource.CarrierMessageID)
		if errors.Is(err, ErrPlatformNotFound) {
			resolutions.WithLabelValues(mode, string(ReasonMessageNotFound)).Inc()
			return nil, &Unavailable{Reason: ReasonMessageNotFound, ResourceID: resource.ID, Cause: err}
		} else if err != nil {
			return nil, oops.New(err, "failed to fetch message %s", resource.CarrierMessageID)
		}
		resolutions.WithLabelValues(mode, "message").Inc()
		return &Link{Resource: resource, URL: msg.JumpURL}, nil
	default:
		resolutions.WithLabelValues(mode, "error").Inc()
		return nil, oops.New(err, "failed to fetch fresh URL for resource %d", resource.ID)
	}
}
