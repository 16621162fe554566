package cache

import (
	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

// Evictor is implemented by any derived per-user cache that must be cleared
// alongside the core caches.
type Evictor interface {
	Evict(subject string)
}

// EvictionCoordinator is the single entry point for clearing everything cached
// for a user: the merged rule set, the session record, and any registered
// derived caches. Every call site that can change a user's entitlements (role,
// privilege, or access-rule administration, and every fresh login) must call
// Evict synchronously before acknowledging the triggering change; the caches
// must never disagree about a user's current entitlements.
type EvictionCoordinator struct {
	sessions *SessionTracker
	rules    *RuleCache
	derived  []Evictor
}

// NewEvictionCoordinator wires the coordinator over the session tracker, the
// merged-rules cache, and any derived caches.
func NewEvictionCoordinator(sessions *SessionTracker, rules *RuleCache, derived ...Evictor) *EvictionCoordinator {
	return &EvictionCoordinator{
		sessions: sessions,
		rules:    rules,
		derived:  derived,
	}
}

// Evict clears all cached state for the subject.
func (c *EvictionCoordinator) Evict(subject string) {
	if subject == "" {
		logger.Error("cannot evict cache for a blank subject")
		return
	}
	c.sessions.EndSession(subject)
	c.rules.Evict(subject)
	for _, e := range c.derived {
		e.Evict(subject)
	}
}

// EvictUser clears all cached state for the user, if any.
func (c *EvictionCoordinator) EvictUser(user *model.User) {
	if user == nil {
		logger.Error("cannot evict cache for a nil user")
		return
	}
	c.Evict(user.Subject)
}
