// Package cache holds the per-user caches of the authorization core: the
// merged-rule-set cache, the session tracker, and the eviction coordinator that
// keeps them consistent. Entries have no TTL; staleness is controlled entirely
// by explicit eviction, which makes eviction a correctness contract rather than
// an optimization.
package cache

import (
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openmedgrid/authz-server/internal/model"
)

// DefaultRuleCacheSize bounds the number of users with cached merged rule sets.
const DefaultRuleCacheSize = 10000

// RuleCache caches aggregated merged rule sets keyed by user subject and
// target application. The aggregation spans the role to privilege to
// access-rule fan-out and is expensive to recompute, so it is filled as a side
// effect of the first authorization decision after login or eviction. Eviction
// is per subject: one administrative change to a user's entitlements clears
// that user's entries for every application at once.
type RuleCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, map[uuid.UUID][]*model.AccessRule]
}

// NewRuleCache creates a rule cache bounded to size subjects. A size of zero
// or less falls back to DefaultRuleCacheSize.
func NewRuleCache(size int) *RuleCache {
	if size <= 0 {
		size = DefaultRuleCacheSize
	}
	entries, err := lru.New[string, map[uuid.UUID][]*model.AccessRule](size)
	if err != nil {
		// lru.New only fails on a non-positive size, which is excluded above.
		panic(err)
	}
	return &RuleCache{entries: entries}
}

// Get returns the cached merged rule set for a subject and application.
func (c *RuleCache) Get(subject string, appID uuid.UUID) ([]*model.AccessRule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byApp, ok := c.entries.Get(subject)
	if !ok {
		return nil, false
	}
	accessRules, ok := byApp[appID]
	return accessRules, ok
}

// Put stores the merged rule set for a subject and application.
func (c *RuleCache) Put(subject string, appID uuid.UUID, accessRules []*model.AccessRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byApp, ok := c.entries.Get(subject)
	if !ok {
		byApp = make(map[uuid.UUID][]*model.AccessRule)
		c.entries.Add(subject, byApp)
	}
	byApp[appID] = accessRules
}

// Evict removes every cached rule set for the subject. The next decision for
// the subject re-aggregates from current privileges.
func (c *RuleCache) Evict(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(subject)
}

// Len returns the number of cached subjects.
func (c *RuleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
