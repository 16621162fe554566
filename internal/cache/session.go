package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSessionDuration is how long a session may live before token
// refresh is refused.
const DefaultMaxSessionDuration = 8 * time.Hour

// DefaultSessionCacheSize bounds the number of tracked sessions.
const DefaultSessionCacheSize = 10000

// SessionTracker records the session-start time per user subject and answers
// whether the configured maximum session duration has elapsed. A subject with
// no recorded session counts as expired.
type SessionTracker struct {
	starts      *lru.Cache[string, time.Time]
	maxDuration time.Duration
	now         func() time.Time
}

// NewSessionTracker creates a tracker with the given maximum session duration.
// A non-positive duration falls back to DefaultMaxSessionDuration.
func NewSessionTracker(maxDuration time.Duration) *SessionTracker {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxSessionDuration
	}
	starts, err := lru.New[string, time.Time](DefaultSessionCacheSize)
	if err != nil {
		panic(err)
	}
	return &SessionTracker{
		starts:      starts,
		maxDuration: maxDuration,
		now:         time.Now,
	}
}

// StartSession records the current time as the subject's session start,
// replacing any previous record.
func (t *SessionTracker) StartSession(subject string) {
	t.starts.Add(subject, t.now())
}

// EndSession removes the subject's session record.
func (t *SessionTracker) EndSession(subject string) {
	t.starts.Remove(subject)
}

// SessionStart returns the recorded session start for the subject.
func (t *SessionTracker) SessionStart(subject string) (time.Time, bool) {
	return t.starts.Get(subject)
}

// IsSessionExpired reports whether the subject's session has exceeded the
// maximum duration, or no session exists at all.
func (t *SessionTracker) IsSessionExpired(subject string) bool {
	start, ok := t.starts.Get(subject)
	if !ok {
		return true
	}
	return t.now().Sub(start) > t.maxDuration
}
