package cluster

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/agentdev/tg-agent-bridge/internal/bridgeerr"
)

// Election drives the per-instance Standby → CandidatingAfterStale →
// Leader state machine (§4.3). It owns no goroutine of its own; Tick is
// called by the heartbeat scheduler on the standby-check / candidate timer.
type Election struct {
	reg  *Registry
	role Role

	becameActiveAt time.Time // monotonic; zero until Leader is entered

	// forcedLeader makes this instance permanently leader, because
	// USE_ICLOUD_COORDINATOR is off or the shared store is unreachable.
	// /use does not set it; it writes StateRecord through ForceActivate.
	forcedLeader bool
}

// NewElection starts an instance in Standby.
func NewElection(reg *Registry) *Election {
	return &Election{reg: reg, role: RoleStandby}
}

// Role returns the current role.
func (e *Election) Role() Role { return e.role }

// BecameActiveAt returns the monotonic instant this instance most recently
// became leader. Zero if it has never been leader.
func (e *Election) BecameActiveAt() time.Time { return e.becameActiveAt }

// ForceLeader makes this instance leader unconditionally, used when
// USE_ICLOUD_COORDINATOR is disabled or the shared store is unreachable
// (single-instance mode).
func (e *Election) ForceLeader() {
	e.forcedLeader = true
	if e.role != RoleLeader {
		e.role = RoleLeader
		e.becameActiveAt = time.Now()
	}
}

// Tick runs one iteration of the state machine. The Scheduler calls it from
// the Standby-check timer; while Leader, the Scheduler calls
// RefreshActiveHeartbeat on the active-heartbeat timer instead. Every store error short-circuits to Standby: election is
// advisory and always makes progress on the next tick (§4.3 "Failure
// semantics").
func (e *Election) Tick(ctx context.Context) {
	if e.forcedLeader {
		e.role = RoleLeader
		return
	}

	switch e.role {
	case RoleLeader:
		e.tickLeader(ctx)
	default:
		e.tickStandby(ctx)
	}
}

func (e *Election) tickLeader(ctx context.Context) {
	state, found, err := e.reg.ReadState()
	if err != nil || !found {
		log.Printf("[election] leader read failed, assuming lost: %v", err)
		e.toStandby()
		return
	}
	if state.ActiveDevice != e.reg.DeviceID() {
		log.Printf("[election] lost leadership to %q", state.ActiveDevice)
		e.toStandby()
	}
}

// RefreshActiveHeartbeat is driven by the active-heartbeat timer (§4.4,
// "Active heartbeat (StateRecord) | Leader | 30s | 10s") while this instance
// is Leader: it rewrites StateRecord.ActiveDeviceHeartbeat/LastModified to
// prove liveness so standbys' staleness check (tickStandby) does not treat a
// healthy leader as dead. If the read shows leadership already lost to
// another device, demote instead of overwriting its record.
func (e *Election) RefreshActiveHeartbeat(ctx context.Context) {
	if e.forcedLeader {
		return
	}
	state, found, err := e.reg.ReadState()
	if err != nil || !found {
		log.Printf("[election] active heartbeat read failed, assuming lost: %v", err)
		e.toStandby()
		return
	}
	if state.ActiveDevice != e.reg.DeviceID() {
		log.Printf("[election] lost leadership to %q", state.ActiveDevice)
		e.toStandby()
		return
	}

	now := time.Now().UnixMilli()
	state.ActiveDeviceHeartbeat = now
	state.LastModified = now
	state.ModifiedBy = e.reg.DeviceID()
	if err := e.reg.WriteState(&state); err != nil {
		log.Printf("[election] active heartbeat write failed: %v", err)
	}
}

func (e *Election) tickStandby(ctx context.Context) {
	state, found, err := e.reg.ReadState()
	if err != nil {
		e.toStandby()
		return
	}
	if found && state.ActiveDevice == e.reg.DeviceID() {
		e.toLeader()
		return
	}

	age := time.Duration(math.MaxInt64)
	if found && state.ActiveDeviceHeartbeat > 0 {
		age = time.Duration(time.Now().UnixMilli()-state.ActiveDeviceHeartbeat) * time.Millisecond
	}
	if !found || state.ActiveDevice == "" || age > HeartbeatTimeoutMillis*time.Millisecond {
		e.candidate(ctx)
	}
}

// candidate runs the candidation protocol (§4.3): jittered sleep, re-check,
// write-then-verify.
func (e *Election) candidate(ctx context.Context) {
	e.role = RoleCandidatingAfterStale

	delay := time.Duration(rand.Int63n(FailoverJitterMaxMillis+1)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		e.toStandby()
		return
	}

	state, found, err := e.reg.ReadState()
	if err != nil {
		e.toStandby()
		return
	}
	if found && state.ActiveDevice != "" {
		age := time.Duration(time.Now().UnixMilli()-state.ActiveDeviceHeartbeat) * time.Millisecond
		if age <= HeartbeatTimeoutMillis*time.Millisecond {
			e.toStandby()
			return
		}
	}

	prevLastModified := state.LastModified
	now := time.Now().UnixMilli()
	attempt := state
	attempt.ActiveDevice = e.reg.DeviceID()
	attempt.ActiveDeviceHeartbeat = now
	attempt.LastModified = now
	attempt.ModifiedBy = e.reg.DeviceID()
	if err := e.reg.WriteState(&attempt); err != nil {
		e.toStandby()
		return
	}

	select {
	case <-time.After(VerifyDelayMillis * time.Millisecond):
	case <-ctx.Done():
		e.toStandby()
		return
	}

	verify, found, err := e.reg.ReadState()
	if err != nil || !found {
		e.toStandby()
		return
	}
	if verify.ActiveDevice == e.reg.DeviceID() && verify.LastModified >= prevLastModified {
		e.toLeader()
		return
	}
	e.toStandby()
}

func (e *Election) toLeader() {
	if e.role != RoleLeader {
		log.Printf("[election] %s -> leader", e.reg.DeviceID())
	}
	e.role = RoleLeader
	e.becameActiveAt = time.Now()
}

func (e *Election) toStandby() {
	e.role = RoleStandby
}

// ForceActivate bypasses the normal candidation race for /use: it writes
// StateRecord with the named device as active directly, without
// verification. The caller is responsible for confirming the target device
// is known.
func ForceActivate(reg *Registry, targetDeviceID string) error {
	state, _, err := reg.ReadState()
	if err != nil {
		return bridgeerr.New(bridgeerr.KindStoreTransient, "force-activate read", err)
	}
	now := time.Now().UnixMilli()
	state.ActiveDevice = targetDeviceID
	state.ActiveDeviceHeartbeat = now
	state.LastModified = now
	state.ModifiedBy = reg.DeviceID()
	return reg.WriteState(&state)
}
