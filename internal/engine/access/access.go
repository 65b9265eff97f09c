// Package access computes per-actor capabilities on requests.
package access

import (
	"context"
	"fmt"

	"foiadesk/internal/domain"
	"foiadesk/internal/repo"
)

const (
	CapView        = "view"
	CapChange      = "change"
	CapEmbargo     = "embargo"
	CapEmbargoPerm = "embargo_perm"
)

// DeniedError indicates a missing capability on a request.
type DeniedError struct {
	Capability string
	RequestID  string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("capability %s required on request %s", e.Capability, e.RequestID)
}

// Set holds the capabilities an actor has on a single request.
type Set map[string]bool

func (s Set) Has(cap string) bool { return s[cap] }

// Service derives capability sets from ownership, collaboration links,
// organization sharing and share-link keys.
type Service struct {
	Repo repo.Repo
}

// Capabilities computes the actor's capability set on a request. actorID may
// be empty for anonymous callers and accessKey may carry a share-link key.
// Requests without an embargo are publicly viewable.
func (s Service) Capabilities(ctx context.Context, req domain.Request, actorID, accessKey string) (Set, error) {
	set := Set{}
	if !req.Embargo {
		set[CapView] = true
	}
	if accessKey != "" && req.AccessKey != nil && accessKey == *req.AccessKey {
		set[CapView] = true
	}
	if actorID == "" {
		return set, nil
	}

	actor, err := s.Repo.GetUser(ctx, actorID)
	if err == repo.ErrNotFound {
		return set, nil
	}
	if err != nil {
		return nil, err
	}
	if actor.Staff {
		return Set{CapView: true, CapChange: true, CapEmbargo: true, CapEmbargoPerm: true}, nil
	}
	if !actor.Active {
		return set, nil
	}

	if actorID == req.OwnerID {
		set[CapView] = true
		set[CapChange] = true
		grantEmbargo(set, actor.Tier)
		return set, nil
	}

	for _, id := range req.EditorIDs {
		if id == actorID {
			set[CapView] = true
			set[CapChange] = true
			grantEmbargo(set, actor.Tier)
			return set, nil
		}
	}
	for _, id := range req.ViewerIDs {
		if id == actorID {
			set[CapView] = true
			return set, nil
		}
	}

	// Owners sharing with their organization grant read access to active
	// members even while the request is embargoed.
	if actor.OrgID != nil {
		owner, err := s.Repo.GetUser(ctx, req.OwnerID)
		if err != nil && err != repo.ErrNotFound {
			return nil, err
		}
		if err == nil && owner.OrgShare && owner.OrgID != nil && *owner.OrgID == *actor.OrgID {
			set[CapView] = true
		}
	}
	return set, nil
}

// Embargo powers follow the actor's own subscription tier, whether they
// own the request or edit it for someone else.
func grantEmbargo(set Set, tier string) {
	if tier == "pro" || tier == "org" {
		set[CapEmbargo] = true
	}
	if tier == "org" {
		set[CapEmbargoPerm] = true
	}
}

// Require returns a DeniedError unless the actor holds the capability.
func (s Service) Require(ctx context.Context, req domain.Request, actorID, accessKey, cap string) error {
	set, err := s.Capabilities(ctx, req, actorID, accessKey)
	if err != nil {
		return err
	}
	if !set.Has(cap) {
		return DeniedError{Capability: cap, RequestID: req.ID}
	}
	return nil
}
