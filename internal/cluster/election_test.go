package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/agentdev/tg-agent-bridge/internal/store"
)

func newElectionTestRegistry(t *testing.T) *Registry {
	t.Helper()
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
	return reg
}

func TestForceLeaderIsUnconditional(t *testing.T) {
	reg := newElectionTestRegistry(t)
	e := NewElection(reg)
	if e.Role() != RoleStandby {
		t.Fatalf("expected to start in Standby, got %s", e.Role())
	}
	e.ForceLeader()
	if e.Role() != RoleLeader {
		t.Fatalf("expected Leader after ForceLeader, got %s", e.Role())
	}
	if e.BecameActiveAt().IsZero() {
		t.Fatal("expected BecameActiveAt to be set")
	}

	// Even a store error on Tick must not unseat a forced leader.
	e.Tick(context.Background())
	if e.Role() != RoleLeader {
		t.Fatal("ForceLeader must survive subsequent Tick calls")
	}
}

func TestTickStandbyBecomesLeaderWhenAlreadyActive(t *testing.T) {
	reg := newElectionTestRegistry(t)
	e := NewElection(reg)

	state := StateRecord{ActiveDevice: reg.DeviceID(), ActiveDeviceHeartbeat: time.Now().UnixMilli()}
	if err := reg.WriteState(&state); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	e.Tick(context.Background())
	if e.Role() != RoleLeader {
		t.Fatalf("expected Leader once state names this device active, got %s", e.Role())
	}
}

func TestTickLeaderDetectsLostLeadership(t *testing.T) {
	reg := newElectionTestRegistry(t)
	e := NewElection(reg)
	e.role = RoleLeader

	if err := reg.WriteState(&StateRecord{ActiveDevice: "someone-else", LastModified: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	e.Tick(context.Background())
	if e.Role() != RoleStandby {
		t.Fatalf("expected to step down to Standby, got %s", e.Role())
	}
}

func TestTickLeaderStaysLeaderWhileStillActive(t *testing.T) {
	reg := newElectionTestRegistry(t)
	e := NewElection(reg)
	e.role = RoleLeader

	if err := reg.WriteState(&StateRecord{ActiveDevice: reg.DeviceID(), LastModified: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	e.Tick(context.Background())
	if e.Role() != RoleLeader {
		t.Fatalf("expected to remain Leader, got %s", e.Role())
	}
}

func TestRefreshActiveHeartbeatAdvancesTimestamp(t *testing.T) {
	reg := newElectionTestRegistry(t)
	e := NewElection(reg)
	e.role = RoleLeader

	stale := time.Now().Add(-time.Hour).UnixMilli()
	if err := reg.WriteState(&StateRecord{ActiveDevice: reg.DeviceID(), ActiveDeviceHeartbeat: stale, LastModified: stale}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	e.RefreshActiveHeartbeat(context.Background())

	state, found, err := reg.ReadState()
	if err != nil || !found {
		t.Fatalf("ReadState: found=%v err=%v", found, err)
	}
	if state.ActiveDeviceHeartbeat <= stale {
		t.Fatalf("expected ActiveDeviceHeartbeat to advance past %d, got %d", stale, state.ActiveDeviceHeartbeat)
	}
	if state.LastModified <= stale {
		t.Fatalf("expected LastModified to advance past %d, got %d", stale, state.LastModified)
	}
	if e.Role() != RoleLeader {
		t.Fatalf("expected to remain Leader, got %s", e.Role())
	}
}

func TestRefreshActiveHeartbeatDemotesOnLostLeadership(t *testing.T) {
	reg := newElectionTestRegistry(t)
	e := NewElection(reg)
	e.role = RoleLeader

	if err := reg.WriteState(&StateRecord{ActiveDevice: "someone-else", LastModified: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	e.RefreshActiveHeartbeat(context.Background())
	if e.Role() != RoleStandby {
		t.Fatalf("expected to step down to Standby, got %s", e.Role())
	}
}

func TestRefreshActiveHeartbeatNoopWhenForced(t *testing.T) {
	reg := newElectionTestRegistry(t)
	e := NewElection(reg)
	e.ForceLeader()

	if err := reg.WriteState(&StateRecord{ActiveDevice: "someone-else", LastModified: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	e.RefreshActiveHeartbeat(context.Background())
	if e.Role() != RoleLeader {
		t.Fatal("a forced leader must not be demoted by active-heartbeat refresh")
	}
}

func TestForceActivateBypassesVerification(t *testing.T) {
	reg := newElectionTestRegistry(t)
	if err := ForceActivate(reg, "other-device"); err != nil {
		t.Fatalf("ForceActivate: %v", err)
	}
	state, found, err := reg.ReadState()
	if err != nil || !found {
		t.Fatalf("ReadState: found=%v err=%v", found, err)
	}
	if state.ActiveDevice != "other-device" {
		t.Fatalf("expected forced active device, got %q", state.ActiveDevice)
	}
}
