package handlers

import (
	"errors"

	"rental-settlement/internal/services"
	"rental-settlement/internal/status"
	"rental-settlement/internal/store"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// RoleAdvertiser is the users.role value of advertiser accounts.
const RoleAdvertiser = "advertiser"

// ActorResolver turns the authenticated record of a request into a services.Actor.
// Superusers act as admins, users with role advertiser act as their advertiser profile and
// everyone else acts as a tenant.
type ActorResolver struct {
	store store.Store
}

func NewActorResolver(s store.Store) *ActorResolver {
	return &ActorResolver{store: s}
}

func (r *ActorResolver) Resolve(e *core.RequestEvent) (services.Actor, error) {
	if e.Auth == nil {
		return services.Actor{}, apis.NewUnauthorizedError("Unauthorized", nil)
	}
	if e.Auth.IsSuperuser() {
		return services.Actor{ID: e.Auth.Id, Role: services.RoleAdmin}, nil
	}
	if e.Auth.GetString("role") == RoleAdvertiser {
		advertiser, err := r.store.FindAdvertiserByUser(e.Request.Context(), e.Auth.Id)
		if errors.Is(err, status.ErrNotFound) {
			return services.Actor{}, apis.NewForbiddenError("No advertiser profile for this account", nil)
		}
		if err != nil {
			return services.Actor{}, apiError(err)
		}
		return services.Actor{ID: advertiser.ID, Role: services.RoleAdvertiser}, nil
	}
	return services.Actor{ID: e.Auth.Id, Role: services.RoleTenant}, nil
}

func (r *ActorResolver) requireAdmin(e *core.RequestEvent) error {
	actor, err := r.Resolve(e)
	if err != nil {
		return err
	}
	if actor.Role != services.RoleAdmin {
		return apis.NewForbiddenError("Admin access required", nil)
	}
	return nil
}
