package cluster

import (
	"testing"
	"time"

	"github.com/agentdev/tg-agent-bridge/internal/store"
)

func newTestRegistry(t *testing.T, prefix string) *Registry {
	t.Helper()
	st, err := store.Open(t.TempDir(), "app")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	reg, err := NewRegistry(st, prefix, t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestDeviceIDIncludesCustomPrefix(t *testing.T) {
	reg := newTestRegistry(t, "work")
	if got := reg.DeviceID(); got == "" {
		t.Fatal("expected a non-empty device id")
	}
	// device_id = [custom_prefix + "@"] + hostname + ":" + absolute_directory
	if reg.DeviceID()[:5] != "work@" {
		t.Fatalf("expected device id to start with \"work@\", got %q", reg.DeviceID())
	}
}

func TestBootstrapInitializesStateAndDeviceRecord(t *testing.T) {
	reg := newTestRegistry(t, "")
	if err := reg.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	state, found, err := reg.ReadState()
	if err != nil || !found {
		t.Fatalf("expected state to exist after bootstrap: found=%v err=%v", found, err)
	}
	if state.ActiveDevice != "" {
		t.Fatalf("expected no active device on first bootstrap, got %q", state.ActiveDevice)
	}

	devices, err := reg.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].Record.Name != reg.DeviceID() {
		t.Fatalf("expected this instance's own device record, got %+v", devices)
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t, "")
	if err := reg.Bootstrap(); err != nil {
		t.Fatalf("first Bootstrap: %v", err)
	}
	if err := reg.WriteState(&StateRecord{ActiveDevice: "someone-else", LastModified: 123}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	if err := reg.Bootstrap(); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	state, _, err := reg.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if state.ActiveDevice != "someone-else" {
		t.Fatal("bootstrap must not clobber an existing state record")
	}
}

func TestListDevicesOrdersActiveFirstThenRecency(t *testing.T) {
	reg := newTestRegistry(t, "")
	if err := reg.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	// A second, unrelated registry sharing the same store root.
	other, err := NewRegistry(reg.st, "other", t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := other.WriteOwnDeviceRecord(); err != nil {
		t.Fatalf("WriteOwnDeviceRecord: %v", err)
	}

	state := StateRecord{ActiveDevice: other.DeviceID(), LastModified: time.Now().UnixMilli()}
	if err := reg.WriteState(&state); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	devices, err := reg.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if !devices[0].Active || devices[0].Record.Name != other.DeviceID() {
		t.Fatalf("expected the active device listed first, got %+v", devices[0])
	}
	if devices[0].Number != 1 || devices[1].Number != 2 {
		t.Fatalf("expected 1-based numbering, got %d/%d", devices[0].Number, devices[1].Number)
	}
}

func TestSweepStaleDevicesRemovesOldRecords(t *testing.T) {
	reg := newTestRegistry(t, "")
	if err := reg.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	stale, err := NewRegistry(reg.st, "stale", t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	oldRecord := DeviceRecord{
		Name:     stale.DeviceID(),
		LastSeen: time.Now().Add(-48 * time.Hour).UnixMilli(),
	}
	if err := reg.st.Write(deviceFile(stale.sanitize), &oldRecord); err != nil {
		t.Fatalf("seed stale device: %v", err)
	}

	removed, err := reg.SweepStaleDevices()
	if err != nil {
		t.Fatalf("SweepStaleDevices: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 device removed, got %d", removed)
	}

	devices, err := reg.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	for _, d := range devices {
		if d.Record.Name == stale.DeviceID() {
			t.Fatal("stale device should have been removed")
		}
	}
}

func TestRemoveDevice(t *testing.T) {
	reg := newTestRegistry(t, "")
	if err := reg.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := reg.RemoveDevice(reg.DeviceID()); err != nil {
		t.Fatalf("RemoveDevice: %v", err)
	}
	devices, err := reg.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected no devices after removal, got %+v", devices)
	}
}
