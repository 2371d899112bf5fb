package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/scheduler"
	"github.com/meshwatchio/meshwatch/internal/store"
)

func TestTracerouteConfigValidate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := scheduler.NewTraceroute(testLogger(t), h.store, h.slot, h.m, h.clock,
		scheduler.TracerouteConfig{Interval: -time.Second})
	require.Error(t, err)
}

func TestTracerouteTickProbesStalestFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	// A was traced five hours ago, B never.
	h.seedNode(t, "!000000aa", 0xaa, "Alpha")
	_, err := h.store.InsertTraceroute(ctx, "!00000001", ptr("!000000aa"),
		[]string{"!00000001", "!000000aa"}, nil, nil)
	require.NoError(t, err)

	h.clock.Advance(5 * time.Hour)
	h.seedNode(t, "!000000aa", 0xaa, "Alpha")
	h.seedNode(t, "!000000bb", 0xbb, "Bravo")

	sched, err := scheduler.NewTraceroute(testLogger(t), h.store, h.slot, h.m, h.clock,
		scheduler.TracerouteConfig{Delay: 10 * time.Second})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Tick(ctx)
	}()

	// The cycle is now pacing between its two sends; an overlapping
	// tick must be dropped.
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	sched.Tick(ctx)

	h.clock.Advance(10 * time.Second)
	<-done

	require.Equal(t, []uint32{0xbb, 0xaa}, h.radio.traceroutes)

	attempts, err := h.store.Attempts(ctx, store.AttemptTraceroute, store.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "!000000aa", attempts[0].TargetID)
	assert.Equal(t, "Alpha", *attempts[0].TargetName)
	assert.Equal(t, "!000000bb", attempts[1].TargetID)
}

func TestTracerouteTickTimesOutStaleAttempts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.seedNode(t, "!000000aa", 0xaa, "")
	_, err := h.store.InsertAttempt(ctx, store.AttemptTraceroute, "!000000aa", nil)
	require.NoError(t, err)

	h.clock.Advance(130 * time.Second)
	h.seedNode(t, "!000000aa", 0xaa, "")

	sched, err := scheduler.NewTraceroute(testLogger(t), h.store, h.slot, h.m, h.clock,
		scheduler.TracerouteConfig{MaxPerCycle: 1})
	require.NoError(t, err)
	sched.Tick(ctx)

	timedOut, err := h.store.Attempts(ctx, store.AttemptTraceroute, store.StatusTimeout, 10)
	require.NoError(t, err)
	require.Len(t, timedOut, 1)

	// The node stays eligible and gets re-probed the same cycle.
	assert.Equal(t, []uint32{0xaa}, h.radio.traceroutes)
}

func TestTracerouteSendFailureStillRecordsAttempt(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.radio.sendErr = errors.New("radio rejected frame")
	h.seedNode(t, "!000000aa", 0xaa, "")

	sched, err := scheduler.NewTraceroute(testLogger(t), h.store, h.slot, h.m, h.clock,
		scheduler.TracerouteConfig{MaxPerCycle: 1})
	require.NoError(t, err)
	sched.Tick(ctx)

	assert.Empty(t, h.radio.traceroutes)
	attempts, err := h.store.Attempts(ctx, store.AttemptTraceroute, store.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "!000000aa", attempts[0].TargetID)
}

func TestTracerouteTickNoRadio(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.seedNode(t, "!000000aa", 0xaa, "")
	h.slot.Clear()

	sched, err := scheduler.NewTraceroute(testLogger(t), h.store, h.slot, h.m, h.clock,
		scheduler.TracerouteConfig{})
	require.NoError(t, err)
	sched.Tick(ctx)

	attempts, err := h.store.Attempts(ctx, store.AttemptTraceroute, "", 10)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}
