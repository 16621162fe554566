package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmedgrid/authz-server/internal/model"
)

func TestRuleCachePutGetEvict(t *testing.T) {
	t.Parallel()

	c := NewRuleCache(4)
	appA := uuid.New()
	appB := uuid.New()
	rules := []*model.AccessRule{model.NewAccessRule("r", "$.f", model.RuleTypeAllEquals, nil)}

	_, ok := c.Get("subject", appA)
	assert.False(t, ok)

	c.Put("subject", appA, rules)
	c.Put("subject", appB, nil)

	got, ok := c.Get("subject", appA)
	require.True(t, ok)
	assert.Equal(t, rules, got)

	// A nil rule set is a legal cached value, distinct from a miss.
	got, ok = c.Get("subject", appB)
	require.True(t, ok)
	assert.Nil(t, got)

	// Eviction is per subject and clears every application at once.
	c.Evict("subject")
	_, ok = c.Get("subject", appA)
	assert.False(t, ok)
	_, ok = c.Get("subject", appB)
	assert.False(t, ok)
}

func TestRuleCacheBoundsSubjects(t *testing.T) {
	t.Parallel()

	c := NewRuleCache(2)
	app := uuid.New()
	c.Put("a", app, nil)
	c.Put("b", app, nil)
	c.Put("c", app, nil)

	assert.Equal(t, 2, c.Len())
	// "a" is the least recently used subject and was dropped.
	_, ok := c.Get("a", app)
	assert.False(t, ok)
}

func TestRuleCacheDefaultSize(t *testing.T) {
	t.Parallel()

	c := NewRuleCache(0)
	c.Put("subject", uuid.New(), nil)
	assert.Equal(t, 1, c.Len())
}

func TestSessionTrackerExpiry(t *testing.T) {
	t.Parallel()

	tr := NewSessionTracker(8 * time.Hour)
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return current }

	// No record counts as expired.
	assert.True(t, tr.IsSessionExpired("subject"))

	tr.StartSession("subject")
	assert.False(t, tr.IsSessionExpired("subject"))

	start, ok := tr.SessionStart("subject")
	require.True(t, ok)
	assert.Equal(t, current, start)

	current = current.Add(8 * time.Hour)
	assert.False(t, tr.IsSessionExpired("subject"))

	current = current.Add(time.Minute)
	assert.True(t, tr.IsSessionExpired("subject"))

	// A fresh login restarts the clock.
	tr.StartSession("subject")
	assert.False(t, tr.IsSessionExpired("subject"))

	tr.EndSession("subject")
	assert.True(t, tr.IsSessionExpired("subject"))
}

func TestSessionTrackerDefaultDuration(t *testing.T) {
	t.Parallel()

	tr := NewSessionTracker(0)
	assert.Equal(t, DefaultMaxSessionDuration, tr.maxDuration)
}

type spyEvictor struct {
	evicted []string
}

func (s *spyEvictor) Evict(subject string) {
	s.evicted = append(s.evicted, subject)
}

func TestEvictionCoordinatorClearsEverything(t *testing.T) {
	t.Parallel()

	sessions := NewSessionTracker(time.Hour)
	rules := NewRuleCache(4)
	spy := &spyEvictor{}
	coordinator := NewEvictionCoordinator(sessions, rules, spy)

	app := uuid.New()
	sessions.StartSession("subject")
	rules.Put("subject", app, nil)

	coordinator.Evict("subject")

	assert.True(t, sessions.IsSessionExpired("subject"))
	_, ok := rules.Get("subject", app)
	assert.False(t, ok)
	assert.Equal(t, []string{"subject"}, spy.evicted)
}

func TestEvictionCoordinatorIgnoresBlankSubject(t *testing.T) {
	t.Parallel()

	spy := &spyEvictor{}
	coordinator := NewEvictionCoordinator(NewSessionTracker(time.Hour), NewRuleCache(4), spy)

	coordinator.Evict("")
	assert.Empty(t, spy.evicted)

	coordinator.EvictUser(nil)
	assert.Empty(t, spy.evicted)

	coordinator.EvictUser(&model.User{Subject: "subject"})
	assert.Equal(t, []string{"subject"}, spy.evicted)
}
