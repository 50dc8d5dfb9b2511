package cluster

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentdev/tg-agent-bridge/internal/store"
)

const stateFile = "state.json"

func deviceFile(sanitizedID string) string {
	return filepath.Join("devices", sanitizedID+".json")
}

// Registry owns this instance's identity and the store-backed device/state
// documents described in spec.md §4.2.
type Registry struct {
	st       *store.Store
	deviceID string
	sanitize string
	hostname string
	dir      string
	pid      int
	threadID int
}

// NewRegistry computes the device id (§6.2) and prepares the registry. It
// does not touch the store yet — call Bootstrap for that.
func NewRegistry(st *store.Store, customPrefix, workdir string, threadID int) (*Registry, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	abs, err := filepath.Abs(workdir)
	if err != nil {
		abs = workdir
	}
	id := hostname + ":" + abs
	if customPrefix != "" {
		id = customPrefix + "@" + id
	}
	return &Registry{
		st:       st,
		deviceID: id,
		sanitize: store.SanitizeDeviceID(id),
		hostname: hostname,
		dir:      abs,
		pid:      os.Getpid(),
		threadID: threadID,
	}, nil
}

// DeviceID returns this instance's stable identity string.
func (r *Registry) DeviceID() string { return r.deviceID }

// Bootstrap creates devices/ if missing, initializes StateRecord with
// activeDevice="" if missing, and writes this instance's DeviceRecord.
func (r *Registry) Bootstrap() error {
	var state StateRecord
	found, err := r.st.Read(stateFile, &state)
	if err != nil {
		return err
	}
	if !found {
		if err := r.st.Write(stateFile, &StateRecord{}); err != nil {
			return err
		}
	}
	return r.WriteOwnDeviceRecord()
}

// WriteOwnDeviceRecord persists this instance's current heartbeat.
func (r *Registry) WriteOwnDeviceRecord() error {
	rec := DeviceRecord{
		Name:      r.deviceID,
		ThreadID:  r.threadID,
		Hostname:  r.hostname,
		Directory: r.dir,
		PID:       r.pid,
		LastSeen:  time.Now().UnixMilli(),
	}
	return r.st.Write(deviceFile(r.sanitize), &rec)
}

// ReadState returns the current StateRecord. A not-found state is returned
// as a zero-value record with found=false so callers can distinguish
// "never initialized" from "store error".
func (r *Registry) ReadState() (StateRecord, bool, error) {
	var state StateRecord
	found, err := r.st.Read(stateFile, &state)
	return state, found, err
}

// WriteState persists the StateRecord. Only the leader should call this.
func (r *Registry) WriteState(s *StateRecord) error {
	return r.st.Write(stateFile, s)
}

// ListedDevice is one row of the numbered device listing used by /dev.
type ListedDevice struct {
	Number int
	Record DeviceRecord
	Active bool
}

// ListDevices reads every devices/*.json, skips malformed files (logging a
// warning rather than failing), sorts active-first then lastSeen
// descending, and assigns 1-based numbers for UI selection (§4.2).
func (r *Registry) ListDevices() ([]ListedDevice, error) {
	names, err := r.st.List("devices")
	if err != nil {
		return nil, err
	}
	state, _, err := r.ReadState()
	if err != nil {
		return nil, err
	}

	var recs []DeviceRecord
	for _, name := range names {
		var rec DeviceRecord
		found, rerr := r.st.Read(deviceFile(name), &rec)
		if rerr != nil || !found {
			log.Printf("[cluster] skipping malformed device record %s: %v", name, rerr)
			continue
		}
		recs = append(recs, rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		iActive := recs[i].Name == state.ActiveDevice
		jActive := recs[j].Name == state.ActiveDevice
		if iActive != jActive {
			return iActive
		}
		return recs[i].LastSeen > recs[j].LastSeen
	})

	listed := make([]ListedDevice, 0, len(recs))
	for i, rec := range recs {
		listed = append(listed, ListedDevice{
			Number: i + 1,
			Record: rec,
			Active: rec.Name == state.ActiveDevice,
		})
	}
	return listed, nil
}

// SweepStaleDevices removes DeviceRecord files whose lastSeen exceeds the
// 24h stale-device threshold (I4). It is invoked from the heartbeat
// scheduler's 24h cron timer, leader-only.
func (r *Registry) SweepStaleDevices() (removed int, err error) {
	names, err := r.st.List("devices")
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	for _, name := range names {
		var rec DeviceRecord
		found, rerr := r.st.Read(deviceFile(name), &rec)
		if rerr != nil || !found {
			continue
		}
		if now-rec.LastSeen > StaleDeviceThresholdMillis {
			if err := r.st.Delete(deviceFile(name)); err != nil {
				log.Printf("[cluster] failed to remove stale device %s: %v", name, err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[cluster] stale-device sweep removed %d device(s)", removed)
	}
	return removed, nil
}

// RemoveDevice deletes a DeviceRecord by its raw (unsanitized) device id,
// used by /stop.
func (r *Registry) RemoveDevice(deviceID string) error {
	return r.st.Delete(deviceFile(store.SanitizeDeviceID(deviceID)))
}
