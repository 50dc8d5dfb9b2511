package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/agentdev/tg-agent-bridge/internal/store"
)

// TestJitteredTimerFallsWithinBaseAndJitter exercises the P6 distribution
// shape: each fire's delay lands in [base, base+jitter).
func TestJitteredTimerFallsWithinBaseAndJitter(t *testing.T) {
	base := 30 * time.Millisecond
	jitter := 10 * time.Millisecond

	for i := 0; i < 50; i++ {
		before := time.Now()
		tm := newJitteredTimer(base, jitter)
		delay := tm.nextFireAt.Sub(before)
		if delay < base || delay >= base+jitter {
			t.Fatalf("delay %v out of [%v, %v)", delay, base, base+jitter)
		}
	}
}

func TestJitteredTimerZeroJitterIsExactlyBase(t *testing.T) {
	base := 24 * time.Hour
	before := time.Now()
	tm := newJitteredTimer(base, 0)
	delay := tm.nextFireAt.Sub(before)
	if delay < base || delay > base+time.Second {
		t.Fatalf("expected delay ~= base with zero jitter, got %v", delay)
	}
}

func TestJitteredTimerDueBecomesTrueAfterElapsed(t *testing.T) {
	tm := newJitteredTimer(0, 0)
	if !tm.due() {
		t.Fatal("expected a zero-base timer to be immediately due")
	}
}

func TestJitteredTimerResetPushesDeadlineForward(t *testing.T) {
	tm := newJitteredTimer(time.Hour, 0)
	first := tm.nextFireAt
	tm.reset()
	if !tm.nextFireAt.After(first.Add(-time.Millisecond)) {
		t.Fatalf("expected reset to resample a future deadline, first=%v second=%v", first, tm.nextFireAt)
	}
	if tm.due() {
		t.Fatal("expected a 1h-base timer not to be due immediately after reset")
	}
}

func TestSchedulerStandbyCheckIntervalMatchesConstant(t *testing.T) {
	got := (&Scheduler{}).StandbyCheckInterval()
	want := StandbyCheckBaseMillis * time.Millisecond
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// TestSchedulerLeaderTickRefreshesActiveHeartbeat guards against the leader
// role silently failing to prove liveness (§4.4's "Active heartbeat
// (StateRecord) | Leader | 30s | 10s" timer): once activeHeartbeat is due,
// Scheduler.Tick must rewrite StateRecord.ActiveDeviceHeartbeat, not just
// read it.
func TestSchedulerLeaderTickRefreshesActiveHeartbeat(t *testing.T) {
	st, err := store.Open(t.TempDir(), "app")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	reg, err := NewRegistry(st, "", t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	elect := NewElection(reg)
	elect.role = RoleLeader

	stale := time.Now().Add(-time.Hour).UnixMilli()
	if err := reg.WriteState(&StateRecord{ActiveDevice: reg.DeviceID(), ActiveDeviceHeartbeat: stale, LastModified: stale}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	sched := NewScheduler(reg, elect)
	defer sched.Stop()
	// Force the active-heartbeat timer to be immediately due, the same way
	// a role transition or elapsed interval would.
	sched.activeHeartbeat = newJitteredTimer(0, 0)

	sched.Tick(context.Background())

	state, found, err := reg.ReadState()
	if err != nil || !found {
		t.Fatalf("ReadState: found=%v err=%v", found, err)
	}
	if state.ActiveDeviceHeartbeat <= stale {
		t.Fatalf("expected Scheduler.Tick to advance ActiveDeviceHeartbeat past %d, got %d", stale, state.ActiveDeviceHeartbeat)
	}
	if elect.Role() != RoleLeader {
		t.Fatalf("expected to remain Leader, got %s", elect.Role())
	}
}
