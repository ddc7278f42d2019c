package arm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/armctl/internal/observability"
	"github.com/danmuck/armctl/internal/telemetry"
)

// Supervisor owns the emergency stop latch, the watchdog timers, and
// every forced stop path. It is the only component besides the
// controller allowed to mutate channel state.
type Supervisor struct {
	policy SafetyPolicy
	store  *Store
	logger zerolog.Logger
	events telemetry.Sink

	mu          sync.RWMutex
	active      bool
	triggeredAt time.Time
	triggeredBy string
}

func NewSupervisor(policy SafetyPolicy, store *Store, logger zerolog.Logger, events telemetry.Sink) *Supervisor {
	if events == nil {
		events = telemetry.Nop{}
	}
	return &Supervisor{policy: policy, store: store, logger: logger, events: events}
}

// EmergencyStop latches the stop and halts every channel. Latching
// first means no new motion can start while the halts run: any start
// holding a channel lock either drove before we take that lock, in
// which case we halt it, or checks the latch after we set it and is
// refused.
func (s *Supervisor) EmergencyStop(source string) {
	s.mu.Lock()
	first := !s.active
	if first {
		s.active = true
		s.triggeredAt = time.Now()
		s.triggeredBy = source
	}
	s.mu.Unlock()

	if first {
		observability.RecordEmergencyStop(source)
		s.logger.Error().Str("source", source).Msg("emergency stop engaged")
		s.events.Publish(telemetry.Event{Kind: telemetry.KindEmergencyStop, Source: source})
	}

	for _, ch := range s.store.all() {
		_ = s.forceStop(ch, StopCauseEmergency)
	}
}

// ClearEmergencyStop releases the latch. It refuses while any channel
// is faulted; those need an operator reset first.
func (s *Supervisor) ClearEmergencyStop() error {
	for _, ch := range s.store.all() {
		ch.mu.Lock()
		faulted := ch.state == StateFaulted
		ch.mu.Unlock()
		if faulted {
			return fmt.Errorf("%w: channel %q faulted", ErrUnsafeToClear, ch.spec.ID)
		}
	}

	s.mu.Lock()
	wasActive := s.active
	s.active = false
	s.triggeredAt = time.Time{}
	s.triggeredBy = ""
	s.mu.Unlock()

	if wasActive {
		s.logger.Info().Msg("emergency stop cleared")
		s.events.Publish(telemetry.Event{Kind: telemetry.KindEmergencyClear})
	}
	return nil
}

func (s *Supervisor) EStop() EStopStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := EStopStatus{Active: s.active, TriggeredBy: s.triggeredBy}
	if !s.triggeredAt.IsZero() {
		t := s.triggeredAt
		st.TriggeredAt = &t
	}
	return st
}

func (s *Supervisor) ensureMovementAllowed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active {
		return ErrEmergencyStopActive
	}
	return nil
}

// clampSpeed resolves the effective speed for a channel. Zero means
// "as fast as allowed"; values outside (0,100] are refused rather than
// clamped so a miscomputed request surfaces instead of moving slowly.
func (s *Supervisor) clampSpeed(ch *channel, requested float64) (float64, error) {
	if requested < 0 || requested > 100 {
		return 0, fmt.Errorf("%w: requested %v outside (0,100]", ErrSpeedExceeded, requested)
	}
	speed := requested
	if speed == 0 {
		speed = 100
	}
	if !s.policy.SpeedLimiting {
		return speed, nil
	}
	if ch.spec.MaxSpeed > 0 && speed > ch.spec.MaxSpeed {
		speed = ch.spec.MaxSpeed
	}
	if s.policy.GlobalMaxSpeed > 0 && speed > s.policy.GlobalMaxSpeed {
		speed = s.policy.GlobalMaxSpeed
	}
	return speed, nil
}

func (s *Supervisor) checkBounds(ch *channel, angle float64) error {
	if !s.policy.BoundsChecking {
		return nil
	}
	if angle < ch.spec.MinAngle || angle > ch.spec.MaxAngle {
		return fmt.Errorf("%w: angle %.1f outside [%.1f,%.1f] for %q",
			ErrOutOfBounds, angle, ch.spec.MinAngle, ch.spec.MaxAngle, ch.spec.ID)
	}
	return nil
}

// forceStop drives a channel to idle through stopping. Idle and
// faulted channels are left alone, so the stop paths are idempotent
// and an emergency sweep cannot resurrect a fault.
func (s *Supervisor) forceStop(ch *channel, cause StopCause) error {
	ch.mu.Lock()
	if ch.state == StateIdle || ch.state == StateFaulted {
		ch.mu.Unlock()
		return nil
	}
	ch.state = StateStopping
	s.cancelWatchdogLocked(ch)
	out := ch.out
	ch.mu.Unlock()

	return s.finishStop(ch, out.Halt(context.Background()), cause)
}

// finishStop completes a stopping transition once the output halted.
// A halt failure latches the fault instead.
func (s *Supervisor) finishStop(ch *channel, haltErr error, cause StopCause) error {
	ch.mu.Lock()
	if haltErr != nil {
		s.faultLocked(ch, haltErr)
		ch.mu.Unlock()
		s.maybeEscalate(ch.spec.ID)
		return fmt.Errorf("%w: halt %q: %v", ErrHardwareFault, ch.spec.ID, haltErr)
	}
	if ch.state == StateStopping {
		ch.state = StateIdle
		ch.direction = DirectionNone
		ch.speed = 0
		ch.lastStop = cause
	}
	ch.mu.Unlock()
	return nil
}

// faultLocked latches the terminal faulted state. Callers hold ch.mu
// and must run maybeEscalate after releasing it.
func (s *Supervisor) faultLocked(ch *channel, cause error) {
	s.cancelWatchdogLocked(ch)
	ch.state = StateFaulted
	ch.direction = DirectionNone
	ch.speed = 0
	ch.lastStop = StopCauseFault
	observability.RecordHardwareFault(ch.spec.ID)
	s.logger.Error().Str("channel", ch.spec.ID).Err(cause).Msg("channel faulted")
	s.events.Publish(telemetry.Event{
		Kind:    telemetry.KindHardwareFault,
		Channel: ch.spec.ID,
		Detail:  cause.Error(),
	})
}

// maybeEscalate turns a channel fault into a full emergency stop when
// the policy asks for it. Must not be called holding any channel lock.
func (s *Supervisor) maybeEscalate(channelID string) {
	if !s.policy.FaultEscalation || !s.policy.EmergencyStop {
		return
	}
	s.EmergencyStop("fault:" + channelID)
}

// armWatchdogLocked starts the deadline timer for a running channel.
// Re-arming bumps the generation so a stale timer that already fired
// but has not yet taken the lock becomes a no-op.
func (s *Supervisor) armWatchdogLocked(ch *channel, d time.Duration) {
	if !s.policy.TimeoutProtection || d <= 0 {
		return
	}
	if ch.wdTimer != nil {
		ch.wdTimer.Stop()
	}
	ch.wdGen++
	gen := ch.wdGen
	ch.deadline = time.Now().Add(d)
	ch.wdTimer = time.AfterFunc(d, func() { s.expireWatchdog(ch, gen) })
}

func (s *Supervisor) cancelWatchdogLocked(ch *channel) {
	ch.wdGen++
	if ch.wdTimer != nil {
		ch.wdTimer.Stop()
		ch.wdTimer = nil
	}
	ch.deadline = time.Time{}
}

func (s *Supervisor) expireWatchdog(ch *channel, gen uint64) {
	ch.mu.Lock()
	if ch.wdGen != gen || ch.state != StateRunning {
		ch.mu.Unlock()
		return
	}
	ch.state = StateStopping
	s.cancelWatchdogLocked(ch)
	out := ch.out
	ch.mu.Unlock()

	observability.RecordTimeoutStop(ch.spec.ID)
	s.logger.Warn().Str("channel", ch.spec.ID).Msg("watchdog expired, stopping channel")
	s.events.Publish(telemetry.Event{Kind: telemetry.KindTimeoutStop, Channel: ch.spec.ID})

	_ = s.finishStop(ch, out.Halt(context.Background()), StopCauseTimeout)
}

// StopAll force-stops every channel. Used at shutdown.
func (s *Supervisor) StopAll() {
	for _, ch := range s.store.all() {
		_ = s.forceStop(ch, StopCauseCommand)
	}
}

// Snapshot assembles the status view. Each channel is copied under a
// short lock hold; no hardware I/O happens here.
func (s *Supervisor) Snapshot() Snapshot {
	now := time.Now()
	snap := Snapshot{
		Timestamp:     now,
		EmergencyStop: s.EStop(),
		Servos:        make(map[string]ChannelStatus, len(s.store.channels)),
	}
	for _, ch := range s.store.all() {
		ch.mu.Lock()
		snap.Servos[ch.spec.ID] = ch.snapshotLocked(now)
		ch.mu.Unlock()
	}
	return snap
}
