package cluster

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

// jitteredTimer fires at base+U[0,jitter) after every reset, per spec.md
// §4.4: timers are timestamp-based (nextFireAt), never counter-based, and
// transitioning roles immediately resets all of them.
type jitteredTimer struct {
	base      time.Duration
	jitter    time.Duration
	nextFireAt time.Time
}

func newJitteredTimer(base, jitter time.Duration) *jitteredTimer {
	t := &jitteredTimer{base: base, jitter: jitter}
	t.reset()
	return t
}

func (t *jitteredTimer) reset() {
	d := t.base
	if t.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(t.jitter)))
	}
	t.nextFireAt = time.Now().Add(d)
}

func (t *jitteredTimer) due() bool {
	return !time.Now().Before(t.nextFireAt)
}

// Scheduler runs the four jittered timers plus the fixed-interval
// stale-device sweep cron (§4.4's one jitter=0 timer), and drives the
// Election state machine on the Standby-check / active-heartbeat cadence
// appropriate to the current role.
type Scheduler struct {
	reg   *Registry
	elect *Election

	deviceHeartbeatLeader  *jitteredTimer
	activeHeartbeat        *jitteredTimer
	deviceHeartbeatStandby *jitteredTimer
	standbyCheck           *jitteredTimer

	cronRunner *cron.Cron
	lastRole   Role
}

// NewScheduler wires a Scheduler around an already-bootstrapped Registry
// and Election.
func NewScheduler(reg *Registry, elect *Election) *Scheduler {
	s := &Scheduler{
		reg:        reg,
		elect:      elect,
		cronRunner: cron.New(),
		lastRole:   elect.Role(),
	}
	s.resetTimers()
	s.cronRunner.Start()
	return s
}

func (s *Scheduler) resetTimers() {
	s.deviceHeartbeatLeader = newJitteredTimer(LeaderDeviceHeartbeatBaseMillis*time.Millisecond, LeaderDeviceHeartbeatJitterMillis*time.Millisecond)
	s.activeHeartbeat = newJitteredTimer(ActiveHeartbeatBaseMillis*time.Millisecond, ActiveHeartbeatJitterMillis*time.Millisecond)
	s.deviceHeartbeatStandby = newJitteredTimer(StandbyDeviceHeartbeatBaseMillis*time.Millisecond, StandbyDeviceHeartbeatJitterMillis*time.Millisecond)
	s.standbyCheck = newJitteredTimer(StandbyCheckBaseMillis*time.Millisecond, StandbyCheckJitterMillis*time.Millisecond)
}

// ScheduleStaleSweep registers the 24h, jitter-free stale-device sweep as a
// cron job. It is the one timer in §4.4 with jitter=0, which maps
// naturally onto a fixed cron schedule instead of a jittered one.
func (s *Scheduler) ScheduleStaleSweep() error {
	_, err := s.cronRunner.AddFunc("@every 24h", func() {
		if s.elect.Role() != RoleLeader {
			return
		}
		if _, err := s.reg.SweepStaleDevices(); err != nil {
			log.Printf("[cluster] stale sweep failed: %v", err)
		}
	})
	return err
}

// Tick drives the election state machine and fires any timers that are due.
// The ingest loop calls it once per iteration. Tick blocks only while
// Election.candidate waits inside its own select.
func (s *Scheduler) Tick(ctx context.Context) {
	role := s.elect.Role()
	if role != s.lastRole {
		log.Printf("[cluster] role transition %s -> %s, resetting timers", s.lastRole, role)
		s.resetTimers()
		s.lastRole = role
	}

	switch role {
	case RoleLeader:
		if s.deviceHeartbeatLeader.due() {
			if err := s.reg.WriteOwnDeviceRecord(); err != nil {
				log.Printf("[cluster] leader device heartbeat failed: %v", err)
			}
			s.deviceHeartbeatLeader.reset()
		}
		if s.activeHeartbeat.due() {
			s.elect.RefreshActiveHeartbeat(ctx)
			s.activeHeartbeat.reset()
		}
	default:
		if s.deviceHeartbeatStandby.due() {
			if err := s.reg.WriteOwnDeviceRecord(); err != nil {
				log.Printf("[cluster] standby device heartbeat failed: %v", err)
			}
			s.deviceHeartbeatStandby.reset()
		}
		if s.standbyCheck.due() {
			s.elect.Tick(ctx)
			s.standbyCheck.reset()
		}
	}

	if s.elect.Role() != role {
		s.resetTimers()
		s.lastRole = s.elect.Role()
	}
}

// StandbyCheckInterval returns the configured base interval, used by the
// ingest loop to size its own sleep when standing by (§4.6 "When a
// standby: sleep the standby check interval and continue").
func (s *Scheduler) StandbyCheckInterval() time.Duration {
	return StandbyCheckBaseMillis * time.Millisecond
}

// Stop halts the cron runner.
func (s *Scheduler) Stop() {
	s.cronRunner.Stop()
}
