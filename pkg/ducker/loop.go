package ducker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MixyLabs/ducker/pkg/ducker/util"
)

// loopSettings is everything about the loop that a config reload can change
type loopSettings struct {
	policy         Policy
	scheduler      Scheduler
	commandTimeout time.Duration
}

// duckingLoop runs snapshot -> decide -> actuate -> wait, one cycle at a time, until stopped.
// Nothing it remembers between cycles feeds back into a decision; lastDecision and
// failures only decide what gets logged
type duckingLoop struct {
	logger   *zap.SugaredLogger
	notifier Notifier

	source SnapshotSource
	sink   VolumeSink

	settings    loopSettings
	reconfigure chan loopSettings

	paused  atomic.Bool
	verbose bool

	lastDecision *Decision
	failures     int

	processRunning func(executable string) (bool, error)
}

func newDuckingLoop(logger *zap.SugaredLogger, notifier Notifier, source SnapshotSource, sink VolumeSink,
	settings loopSettings) *duckingLoop {
	l := &duckingLoop{
		logger:         logger.Named("loop"),
		notifier:       notifier,
		source:         source,
		sink:           sink,
		settings:       settings,
		reconfigure:    make(chan loopSettings, 1),
		processRunning: util.ProcessRunning,
	}

	l.logger.Debug("Created ducking loop instance")

	return l
}

// Run cycles until ctx is done, then returns ctx.Err()
func (l *duckingLoop) Run(ctx context.Context) error {
	l.logger.Infow("Ducking loop starting",
		"primaryBinary", l.settings.policy.PrimaryBinary,
		"primaryName", l.settings.policy.PrimaryName)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case settings := <-l.reconfigure:
			l.apply(settings)
		default:
		}

		l.runCycle(ctx)

		if err := l.settings.scheduler.Wait(ctx); err != nil {
			l.logger.Debugw("Ducking loop stopped", "reason", err)
			return err
		}
	}
}

// Reconfigure hands new settings to the loop, they take effect before the next cycle
func (l *duckingLoop) Reconfigure(settings loopSettings) {
	// replace whatever is still pending, the newest settings win
	select {
	case <-l.reconfigure:
	default:
	}

	l.reconfigure <- settings
}

// SetPaused suspends ducking: while paused the primary is held at full volume
func (l *duckingLoop) SetPaused(paused bool) {
	if l.paused.Swap(paused) != paused {
		l.logger.Infow("Ducking pause toggled", "paused", paused)
	}
}

func (l *duckingLoop) Paused() bool {
	return l.paused.Load()
}

func (l *duckingLoop) apply(settings loopSettings) {
	l.settings = settings
	l.logger.Infow("Applied new loop settings",
		"primaryBinary", settings.policy.PrimaryBinary,
		"primaryName", settings.policy.PrimaryName,
		"duckedVolume", settings.policy.DuckedVolume,
		"fullVolume", settings.policy.FullVolume,
		"commandTimeout", settings.commandTimeout)
}

func (l *duckingLoop) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.settings.commandTimeout > 0 {
		return context.WithTimeout(ctx, l.settings.commandTimeout)
	}

	return context.WithCancel(ctx)
}

func (l *duckingLoop) runCycle(ctx context.Context) {
	snapshotCtx, cancel := l.callContext(ctx)
	snapshot, err := l.source.Snapshot(snapshotCtx)
	cancel()

	if err != nil {
		// shutting down, not an outage
		if ctx.Err() != nil {
			l.logger.Debugw("Snapshot interrupted by shutdown", "error", err)
			return
		}

		l.onSnapshotFailure(err)
		return
	}

	l.onSnapshotSuccess()

	decision, ok := l.settings.policy.Decide(snapshot)
	if l.verbose {
		l.logger.Debugw("Cycle decision", "streams", len(snapshot), "primaryFound", ok, "decision", decision)
	}

	if !ok {
		l.onPrimaryAbsent()
		return
	}

	if l.paused.Load() {
		decision.Volume = l.settings.policy.FullVolume
	}

	actuateCtx, cancel := l.callContext(ctx)
	err = l.sink.SetVolume(actuateCtx, decision.Index, decision.Volume)
	cancel()

	if err != nil {
		l.logger.Warnw("Failed to set primary stream volume",
			"index", decision.Index,
			"volume", decision.Volume,
			"error", err)
		return
	}

	l.onDecisionApplied(decision, snapshot)
}

func (l *duckingLoop) onSnapshotFailure(err error) {
	l.failures++

	// a server that's down stays down for a while, only the first failure is loud
	if l.failures > 1 {
		l.logger.Debugw("Still failing to get stream snapshot", "failures", l.failures, "error", err)
		return
	}

	l.logger.Warnw("Failed to get stream snapshot, retrying", "error", err)
	l.notifier.Notify("Can't reach the audio server", "Ducking is paused until it comes back.")
}

func (l *duckingLoop) onSnapshotSuccess() {
	if l.failures == 0 {
		return
	}

	l.logger.Infow("Audio server reachable again", "failedCycles", l.failures)
	l.notifier.Notify("Audio server is back", "Ducking resumed.")

	l.failures = 0
}

func (l *duckingLoop) onPrimaryAbsent() {
	if l.lastDecision == nil {
		return
	}

	l.lastDecision = nil

	binary := l.settings.policy.PrimaryBinary
	running, err := l.processRunning(binary)
	if err != nil {
		l.logger.Debugw("Failed to look up primary process", "binary", binary, "error", err)
	}

	// the volume the server holds for the stream is left alone
	l.logger.Infow("Primary stream gone", "binary", binary, "processRunning", running)
}

func (l *duckingLoop) onDecisionApplied(decision Decision, snapshot Snapshot) {
	if l.lastDecision != nil && *l.lastDecision == decision {
		return
	}

	previous := l.lastDecision
	l.lastDecision = &decision

	switch {
	case previous == nil:
		l.logger.Infow("Primary stream found", "index", decision.Index, "volume", decision.Volume)
	case previous.Index != decision.Index:
		l.logger.Infow("Primary stream changed", "from", previous.Index, "to", decision.Index, "volume", decision.Volume)
	case decision.Volume < previous.Volume:
		l.logger.Infow("Ducking primary stream", "index", decision.Index, "volume", decision.Volume)
	default:
		l.logger.Infow("Restoring primary stream", "index", decision.Index, "volume", decision.Volume)
	}

	l.logger.Debugw("Stream snapshot at transition", "streams", len(snapshot), "snapshot", snapshot)
}
