package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	calls []call
	err   error
}

type call struct {
	zone, status string
	locked       bool
}

func (f *fakeRemote) UpdateDoorStatus(ctx context.Context, zone, status string, lastSeen time.Time, ip string, locked bool) error {
	f.calls = append(f.calls, call{zone: zone, status: status, locked: locked})
	return f.err
}

type fakeState struct {
	reachable   int
	unreachable int
}

func (s *fakeState) MarkReachable()            { s.reachable++ }
func (s *fakeState) MarkUnreachable(time.Time) { s.unreachable++ }
func (s *fakeState) CacheAge(time.Time) time.Duration { return 0 }

type fakeMetrics struct {
	ok, fail int
	cacheAge float64
}

func (m *fakeMetrics) RecordHeartbeat(ok bool) {
	if ok {
		m.ok++
	} else {
		m.fail++
	}
}

func (m *fakeMetrics) SetCacheAge(seconds float64) { m.cacheAge = seconds }

type fakeLogger struct{}

func (fakeLogger) Warnf(string, ...any) {}

type fakeDoor struct{ unlocked bool }

func (d *fakeDoor) IsPersistentUnlocked() bool { return d.unlocked }

func TestBeatSendsLockedWhenNotPersistentlyUnlocked(t *testing.T) {
	remote := &fakeRemote{}
	state := &fakeState{}
	metrics := &fakeMetrics{}
	door := &fakeDoor{unlocked: false}

	h := New(remote, state, metrics, fakeLogger{}, door, "front-door", func() (string, error) { return "10.0.0.5", nil })
	h.beat(context.Background(), "online")

	require.Len(t, remote.calls, 1)
	assert.True(t, remote.calls[0].locked)
	assert.Equal(t, "online", remote.calls[0].status)
	assert.Equal(t, 1, state.reachable)
	assert.Equal(t, 1, metrics.ok)
}

func TestBeatSendsUnlockedWhenPersistentlyUnlocked(t *testing.T) {
	remote := &fakeRemote{}
	door := &fakeDoor{unlocked: true}

	h := New(remote, &fakeState{}, &fakeMetrics{}, fakeLogger{}, door, "front-door", func() (string, error) { return "10.0.0.5", nil })
	h.beat(context.Background(), "online")

	require.Len(t, remote.calls, 1)
	assert.False(t, remote.calls[0].locked)
}

func TestBeatFailureMarksUnreachableAndCountsFailure(t *testing.T) {
	remote := &fakeRemote{err: errors.New("connection refused")}
	state := &fakeState{}
	metrics := &fakeMetrics{}
	door := &fakeDoor{}

	h := New(remote, state, metrics, fakeLogger{}, door, "front-door", func() (string, error) { return "10.0.0.5", nil })
	h.beat(context.Background(), "online")

	assert.Equal(t, 1, state.unreachable)
	assert.Equal(t, 1, metrics.fail)
}

func TestSendOfflineSwallowsFailure(t *testing.T) {
	remote := &fakeRemote{err: errors.New("timeout")}
	door := &fakeDoor{}

	h := New(remote, &fakeState{}, &fakeMetrics{}, fakeLogger{}, door, "front-door", func() (string, error) { return "", nil })
	assert.NotPanics(t, func() { h.sendOffline() })
	require.Len(t, remote.calls, 1)
	assert.Equal(t, "offline", remote.calls[0].status)
}
