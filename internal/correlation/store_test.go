package correlation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/softmech/journeyprobe/internal/domain/probe"
)

func TestStore_RegisterDuplicateKeyRejected(t *testing.T) {
	s := NewStore()
	runID := uuid.New()
	deadline := time.Now().Add(time.Minute)

	_, err := s.Register("key-1", runID, "step-1", deadline)
	require.NoError(t, err)

	_, err = s.Register("key-1", uuid.New(), "step-1", deadline)
	require.ErrorIs(t, err, ErrKeyExists)
	require.Equal(t, 1, s.Len())
}

func TestStore_ResolveDeliversOnce(t *testing.T) {
	s := NewStore()
	exp, err := s.Register("key-1", uuid.New(), "step-1", time.Now().Add(time.Minute))
	require.NoError(t, err)

	ev := &probe.InboundEvent{ReceivedAt: time.Now(), Recipient: "key-1"}
	matched, ok := s.Resolve("key-1", ev)
	require.True(t, ok)
	require.Equal(t, exp, matched)
	require.Equal(t, 0, s.Len())

	out := <-exp.Outcome()
	require.False(t, out.TimedOut)
	require.Equal(t, ev, out.Event)

	// duplicate delivery finds nothing to resolve
	_, ok = s.Resolve("key-1", ev)
	require.False(t, ok)
}

func TestStore_SweepFiresExactlyOnce(t *testing.T) {
	s := NewStore()
	now := time.Now()

	expired, err := s.Register("old", uuid.New(), "step-1", now.Add(-time.Second))
	require.NoError(t, err)
	_, err = s.Register("fresh", uuid.New(), "step-1", now.Add(time.Minute))
	require.NoError(t, err)

	swept := s.Sweep(now)
	require.Len(t, swept, 1)
	require.Equal(t, "old", swept[0].Key)
	require.Equal(t, 1, s.Len())

	out := <-expired.Outcome()
	require.True(t, out.TimedOut)

	// second sweep has nothing left to expire
	require.Empty(t, s.Sweep(now))
}

func TestStore_SweepThenResolveIsNoMatch(t *testing.T) {
	s := NewStore()
	_, err := s.Register("key-1", uuid.New(), "step-1", time.Now().Add(-time.Second))
	require.NoError(t, err)

	require.Len(t, s.Sweep(time.Now()), 1)

	_, ok := s.Resolve("key-1", &probe.InboundEvent{})
	require.False(t, ok)
}

func TestStore_ReleaseDropsRunExpectations(t *testing.T) {
	s := NewStore()
	runID := uuid.New()
	exp, err := s.Register("key-1", runID, "step-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = s.Register("other", uuid.New(), "step-1", time.Now().Add(time.Minute))
	require.NoError(t, err)

	require.Equal(t, 1, s.Release(runID))
	require.Equal(t, 1, s.Len())

	// released expectations never fire
	select {
	case <-exp.Outcome():
		t.Fatal("released expectation delivered an outcome")
	default:
	}
}

func TestKeyFor_Normalizes(t *testing.T) {
	require.Equal(t, "probe-abc", KeyFor("  Probe-ABC "))
}

func TestRecipientFor_IsDeterministic(t *testing.T) {
	id := uuid.New()
	require.Equal(t, RecipientFor(id), RecipientFor(id))
	require.NotEqual(t, RecipientFor(id), RecipientFor(uuid.New()))
}
