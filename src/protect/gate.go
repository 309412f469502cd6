package protect

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/models"
	"github.com/odysseia/protect/src/oops"
	"github.com/odysseia/protect/src/perf"
	"github.com/odysseia/protect/src/store"
)

// Gate decides whether a requester may download a resource. Nothing it
// decides is stored: every check reads the current rows and reactions.
type Gate struct {
	store    store.Store
	platform PlatformAttachments
}

func NewGate(s store.Store, platform PlatformAttachments) *Gate {
	return &Gate{store: s, platform: platform}
}

type GateRequest struct {
	RequesterID string
	ResourceID  int

	// Nil when the requester has not been asked for a password yet.
	Password *string
}

// A Grant authorizes exactly one link resolution for one requester.
type Grant struct {
	ResourceID  int
	RequesterID string
	Mode        models.ResourceMode
	IssuedAt    time.Time

	consumed atomic.Bool
}

// Consume marks the grant as used. Only the first call returns true.
func (g *Grant) Consume() bool {
	return g.consumed.CompareAndSwap(false, true)
}

func (g *Gate) Check(ctx context.Context, req GateRequest) (*Grant, error) {
	logger := logging.ExtractLogger(ctx).With().
		Int("resource", req.ResourceID).
		Str("requester", req.RequesterID).
		Logger()

	resource, err := g.store.GetResource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}

	if !resource.IsProtected() {
		gateDecisions.WithLabelValues(string(resource.Mode), "granted").Inc()
		return newGrant(resource, req.RequesterID), nil
	}

	thread, err := g.store.GetThread(ctx, resource.ThreadID)
	if err != nil {
		return nil, err
	}
	if err := resource.Validate(thread); err != nil {
		return nil, oops.New(InvariantViolation, "%v", err)
	}

	policy := PolicyOf(thread)
	if policy.ReactionRequired {
		b := perf.ExtractPerf(ctx).StartBlock("PLATFORM", "Fetch reactions")
		reactions, err := g.platform.GetReactions(ctx, thread.PublicThreadID, thread.GatingMessageID())
		b.End()
		if errors.Is(err, ErrPlatformNotFound) {
			// The gating message is gone, so nobody can have reacted to it.
			logger.Warn().Str("thread", thread.PublicThreadID).Msg("gating message not found")
			reactions = nil
		} else if err != nil {
			return nil, oops.New(err, "failed to fetch reactions for thread %s", thread.PublicThreadID)
		}

		if !policy.SatisfiedBy(reactions, req.RequesterID) {
			return nil, g.deny(&GateDenied{
				Reason:        ReasonReactionMissing,
				ResourceID:    resource.ID,
				RequiredEmoji: policy.RequiredEmoji,
			})
		}
	}

	if resource.HasPassword() {
		if req.Password == nil {
			return nil, g.deny(&GateDenied{Reason: ReasonPasswordRequired, ResourceID: resource.ID})
		}
		if !PasswordMatches(resource, *req.Password) {
			logger.Info().Msg("wrong resource password")
			return nil, g.deny(&GateDenied{Reason: ReasonPasswordMismatch, ResourceID: resource.ID})
		}
	}

	gateDecisions.WithLabelValues(string(resource.Mode), "granted").Inc()
	return newGrant(resource, req.RequesterID), nil
}

func (g *Gate) deny(denied *GateDenied) error {
	gateDecisions.WithLabelValues(string(models.ResourceModeProtected), string(denied.Reason)).Inc()
	return denied
}

func newGrant(resource *models.Resource, requesterID string) *Grant {
	return &Grant{
		ResourceID:  resource.ID,
		RequesterID: requesterID,
		Mode:        resource.Mode,
		IssuedAt:    time.Now(),
	}
}
