package ducker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedSource hands out one result per call, repeating the last one when it runs out
type scriptedSource struct {
	results []sourceResult
	calls   int
}

type sourceResult struct {
	snapshot Snapshot
	err      error
}

func (s *scriptedSource) Snapshot(ctx context.Context) (Snapshot, error) {
	result := s.results[min(s.calls, len(s.results)-1)]
	s.calls++

	return result.snapshot, result.err
}

type volumeCall struct {
	index   uint32
	percent uint8
}

type recordingSink struct {
	lock  sync.Mutex
	calls []volumeCall
	err   error
}

func (s *recordingSink) SetVolume(ctx context.Context, index uint32, percent uint8) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.calls = append(s.calls, volumeCall{index: index, percent: percent})

	return s.err
}

func (s *recordingSink) recorded() []volumeCall {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]volumeCall(nil), s.calls...)
}

type countingNotifier struct {
	titles []string
}

func (n *countingNotifier) Notify(title string, message string) {
	n.titles = append(n.titles, title)
}

// cycleLimitScheduler lets the loop run a fixed number of cycles
type cycleLimitScheduler struct {
	limit int
	waits int
}

func (s *cycleLimitScheduler) Wait(ctx context.Context) error {
	s.waits++
	if s.waits >= s.limit {
		return context.Canceled
	}

	return ctx.Err()
}

func newTestLoop(t *testing.T, source SnapshotSource, sink VolumeSink, cycles int) (*duckingLoop, *countingNotifier) {
	notifier := &countingNotifier{}

	l := newDuckingLoop(zaptest.NewLogger(t).Sugar(), notifier, source, sink, loopSettings{
		policy:         DefaultPolicy(),
		scheduler:      &cycleLimitScheduler{limit: cycles},
		commandTimeout: time.Second,
	})
	l.processRunning = func(string) (bool, error) { return false, nil }

	return l, notifier
}

func TestLoop_AppliesDecisionEveryCycle(t *testing.T) {
	source := &scriptedSource{results: []sourceResult{
		{snapshot: Snapshot{primaryStream(1)}},
		{snapshot: Snapshot{primaryStream(1), otherStream(2, false, false)}},
		{snapshot: Snapshot{primaryStream(1), otherStream(2, true, false)}},
	}}
	sink := &recordingSink{}

	l, _ := newTestLoop(t, source, sink, 4)

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []volumeCall{
		{index: 1, percent: 100},
		{index: 1, percent: 35},
		{index: 1, percent: 100},
		{index: 1, percent: 100}, // unchanged decisions are still applied
	}, sink.recorded())
	assert.Equal(t, 4, source.calls)
}

func TestLoop_NoPrimaryNoActuation(t *testing.T) {
	source := &scriptedSource{results: []sourceResult{
		{snapshot: Snapshot{}},
		{snapshot: Snapshot{otherStream(2, false, false)}},
	}}
	sink := &recordingSink{}

	l, _ := newTestLoop(t, source, sink, 3)
	_ = l.Run(context.Background())

	assert.Empty(t, sink.recorded())
	assert.Equal(t, 3, source.calls)
}

func TestLoop_PrimaryDisappearsLeavesVolumeAlone(t *testing.T) {
	source := &scriptedSource{results: []sourceResult{
		{snapshot: Snapshot{primaryStream(1), otherStream(2, false, false)}},
		{snapshot: Snapshot{otherStream(2, false, false)}},
	}}
	sink := &recordingSink{}

	l, _ := newTestLoop(t, source, sink, 3)
	_ = l.Run(context.Background())

	assert.Equal(t, []volumeCall{{index: 1, percent: 35}}, sink.recorded())
	assert.Nil(t, l.lastDecision)
}

func TestLoop_SnapshotFailureIsRecovered(t *testing.T) {
	source := &scriptedSource{results: []sourceResult{
		{err: errors.New("connection refused")},
		{err: ErrMalformedSnapshot},
		{err: errors.New("connection refused")},
		{snapshot: Snapshot{primaryStream(5)}},
	}}
	sink := &recordingSink{}

	l, notifier := newTestLoop(t, source, sink, 4)
	_ = l.Run(context.Background())

	assert.Equal(t, []volumeCall{{index: 5, percent: 100}}, sink.recorded())
	assert.Equal(t, 0, l.failures)

	// one notification when the outage starts, one when it ends
	assert.Equal(t, []string{"Can't reach the audio server", "Audio server is back"}, notifier.titles)
}

func TestLoop_ActuationFailureDoesNotStopLoop(t *testing.T) {
	source := &scriptedSource{results: []sourceResult{
		{snapshot: Snapshot{primaryStream(1), otherStream(2, false, false)}},
	}}
	sink := &recordingSink{err: errors.New("no such entity")}

	l, _ := newTestLoop(t, source, sink, 3)
	_ = l.Run(context.Background())

	assert.Len(t, sink.recorded(), 3)
	assert.Nil(t, l.lastDecision, "failed actuations are not remembered as applied")
}

func TestLoop_PausedHoldsFullVolume(t *testing.T) {
	source := &scriptedSource{results: []sourceResult{
		{snapshot: Snapshot{primaryStream(1), otherStream(2, false, false)}},
	}}
	sink := &recordingSink{}

	l, _ := newTestLoop(t, source, sink, 1)
	l.SetPaused(true)
	require.True(t, l.Paused())

	_ = l.Run(context.Background())

	assert.Equal(t, []volumeCall{{index: 1, percent: 100}}, sink.recorded())
}

func TestLoop_ReconfigureBeforeNextCycle(t *testing.T) {
	source := &scriptedSource{results: []sourceResult{
		{snapshot: Snapshot{primaryStream(1), otherStream(2, false, false)}},
	}}
	sink := &recordingSink{}

	l, _ := newTestLoop(t, source, sink, 1)

	policy := DefaultPolicy()
	policy.DuckedVolume = 10

	// the newest settings win over anything still pending
	l.Reconfigure(loopSettings{policy: DefaultPolicy(), scheduler: &cycleLimitScheduler{limit: 1}})
	l.Reconfigure(loopSettings{policy: policy, scheduler: &cycleLimitScheduler{limit: 1}})

	_ = l.Run(context.Background())

	assert.Equal(t, []volumeCall{{index: 1, percent: 10}}, sink.recorded())
}

func TestLoop_StopsWhenContextCancelled(t *testing.T) {
	source := &scriptedSource{results: []sourceResult{{snapshot: Snapshot{primaryStream(1)}}}}
	sink := &recordingSink{}

	notifier := &countingNotifier{}
	l := newDuckingLoop(zaptest.NewLogger(t).Sugar(), notifier, source, sink, loopSettings{
		policy:    DefaultPolicy(),
		scheduler: newIntervalScheduler(time.Millisecond),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- l.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(sink.recorded()) >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop didn't stop after cancellation")
	}
}

func TestLoop_ShutdownDuringSnapshotIsNotAnOutage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := sourceFunc(func(callCtx context.Context) (Snapshot, error) {
		// the signal arrives while pactl is still running
		cancel()
		<-callCtx.Done()
		return nil, callCtx.Err()
	})
	sink := &recordingSink{}

	l, notifier := newTestLoop(t, source, sink, 5)

	err := l.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, notifier.titles, "a clean shutdown sends no outage notification")
	assert.Zero(t, l.failures)
	assert.Empty(t, sink.recorded())
}

func TestLoop_CommandTimeoutBoundsCalls(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool

	source := sourceFunc(func(ctx context.Context) (Snapshot, error) {
		deadline, hasDeadline = ctx.Deadline()
		return Snapshot{}, nil
	})

	l, _ := newTestLoop(t, source, &recordingSink{}, 1)
	l.settings.commandTimeout = 50 * time.Millisecond

	before := time.Now()
	_ = l.Run(context.Background())

	require.True(t, hasDeadline)
	assert.WithinDuration(t, before.Add(50*time.Millisecond), deadline, 40*time.Millisecond)

	l.settings.commandTimeout = 0
	l.settings.scheduler = &cycleLimitScheduler{limit: 1}
	_ = l.Run(context.Background())

	assert.False(t, hasDeadline, "a zero timeout leaves calls unbounded")
}

type sourceFunc func(ctx context.Context) (Snapshot, error)

func (f sourceFunc) Snapshot(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}
