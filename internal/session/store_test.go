package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(ttl, debounce time.Duration) (*Store, *time.Time) {
	now := time.Now()
	s := NewStore(ttl, debounce)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestGet_ExpiredSessionIsAbsent(t *testing.T) {
	s, now := newTestStore(10*time.Minute, 2*time.Second)

	s.Set(1, &Session{Mode: ModeCollecting, ModelID: "z-image", Params: map[string]any{}})
	require.NotNil(t, s.Get(1))

	*now = now.Add(10*time.Minute + time.Second)
	assert.Nil(t, s.Get(1), "expired session must look absent even before the sweep")

	// And it is actually gone, not just hidden.
	*now = now.Add(-5 * time.Minute)
	assert.Nil(t, s.Get(1))
}

func TestTouch_ExtendsLifetime(t *testing.T) {
	s, now := newTestStore(10*time.Minute, 2*time.Second)

	s.Set(1, &Session{Mode: ModeCollecting, Params: map[string]any{}})

	*now = now.Add(9 * time.Minute)
	s.Touch(1)

	*now = now.Add(9 * time.Minute)
	assert.NotNil(t, s.Get(1))
}

func TestAllowSubmit_Debounce(t *testing.T) {
	s, now := newTestStore(10*time.Minute, 2*time.Second)

	s.Set(1, &Session{Mode: ModeCollecting, Params: map[string]any{}})

	assert.True(t, s.AllowSubmit(1))
	assert.False(t, s.AllowSubmit(1), "repeat inside the debounce window is ignored")

	*now = now.Add(3 * time.Second)
	assert.True(t, s.AllowSubmit(1))
}

func TestSweep_RemovesIdleSessions(t *testing.T) {
	s, now := newTestStore(10*time.Minute, 2*time.Second)

	s.Set(1, &Session{Mode: ModeCollecting, Params: map[string]any{}})
	s.Set(2, &Session{Mode: ModeAwaitingRechargeAmount, Params: map[string]any{}})

	*now = now.Add(5 * time.Minute)
	s.Touch(2)

	*now = now.Add(6 * time.Minute)
	s.Sweep()

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.NotContains(t, s.sessions, int64(1))
	assert.Contains(t, s.sessions, int64(2))
}
