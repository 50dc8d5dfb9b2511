// Package bridge orchestrates the ingest loop, command router, and
// streaming projector (C6/C7/C8) on top of the cluster, telegramtransport,
// agentclient, and session packages. Only the leader ever runs the
// side-effecting paths; every instance runs the cluster/heartbeat machinery
// underneath it.
package bridge

import (
	"context"
	"log"
	"time"

	"github.com/agentdev/tg-agent-bridge/internal/agentclient"
	"github.com/agentdev/tg-agent-bridge/internal/cluster"
	"github.com/agentdev/tg-agent-bridge/internal/config"
	"github.com/agentdev/tg-agent-bridge/internal/session"
	"github.com/agentdev/tg-agent-bridge/internal/store"
	"github.com/agentdev/tg-agent-bridge/internal/telegramtransport"
)

// Bridge is one running instance: it owns the election/heartbeat machinery,
// the Telegram transport, the agent client, and the in-memory session and
// pending-interaction state.
type Bridge struct {
	cfg      *config.Config
	st       *store.Store
	registry *cluster.Registry
	election *cluster.Election
	sched    *cluster.Scheduler

	tg    *telegramtransport.Client
	agent *agentclient.Client

	pending *session.PendingRegistry
	sess    *session.Session

	topicBySession map[string]int // sessionId -> forum threadId
	streams        map[string]*session.StreamState // sessionId -> active assistant-message state

	startedAt      time.Time
	becameActiveAt time.Time

	version string
}

// New assembles a Bridge from configuration. It does not start any loop;
// call Run for that.
func New(cfg *config.Config, version string) (*Bridge, error) {
	tg, err := telegramtransport.New(cfg.BotToken, cfg.SendURL)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:            cfg,
		tg:             tg,
		agent:          agentclient.New(cfg.OpencodeURL),
		pending:        session.NewPendingRegistry(),
		topicBySession: make(map[string]int),
		streams:        make(map[string]*session.StreamState),
		startedAt:      time.Now(),
		version:        version,
	}
	return b, nil
}

// Bootstrap wires up the shared store and election, degrading to permanent
// single-instance leadership if the store root is unreachable
// (StoreUnavailable, §7).
func (b *Bridge) Bootstrap(workdir string) error {
	st, err := store.Open(b.cfg.StoreRoot, config.AppName)
	if err != nil {
		log.Printf("[bridge] shared store unavailable, degrading to single-instance mode: %v", err)
		b.election = &cluster.Election{}
		reg, regErr := cluster.NewRegistry(nil, b.cfg.DeviceName, workdir, b.cfg.ThreadID)
		if regErr == nil {
			b.registry = reg
		}
		b.forcePermanentLeader()
		return nil
	}
	b.st = st

	reg, err := cluster.NewRegistry(st, b.cfg.DeviceName, workdir, b.cfg.ThreadID)
	if err != nil {
		return err
	}
	b.registry = reg
	if err := reg.Bootstrap(); err != nil {
		log.Printf("[bridge] initial bootstrap write failed, continuing: %v", err)
	}

	b.election = cluster.NewElection(reg)
	if !b.cfg.UseICloudCoordinator {
		b.election.ForceLeader()
	}
	b.sched = cluster.NewScheduler(reg, b.election)
	if err := b.sched.ScheduleStaleSweep(); err != nil {
		log.Printf("[bridge] failed to schedule stale-device sweep: %v", err)
	}
	return nil
}

func (b *Bridge) forcePermanentLeader() {
	if b.election == nil {
		b.election = cluster.NewElection(nil)
	}
	b.election.ForceLeader()
}

// Run drives the ingest-and-heartbeat loop until ctx is cancelled (§5
// scheduling model). The agent-event consumer loop is started separately
// by the caller, alongside Run.
func (b *Bridge) Run(ctx context.Context) error {
	wasLeader := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if b.sched != nil {
			b.sched.Tick(ctx)
		} else if b.election != nil {
			b.election.Tick(ctx)
		}

		isLeader := b.election != nil && b.election.Role() == cluster.RoleLeader
		if isLeader && !wasLeader {
			b.onBecameLeader(ctx)
		}
		wasLeader = isLeader

		if !isLeader {
			b.sleepStandby(ctx)
			continue
		}

		if err := b.pollOnce(ctx); err != nil {
			log.Printf("[ingest] poll failed, backing off: %v", err)
			b.sleepBackoff(ctx)
		}
	}
}

func (b *Bridge) sleepStandby(ctx context.Context) {
	interval := 30 * time.Second
	if b.sched != nil {
		interval = b.sched.StandbyCheckInterval()
	}
	select {
	case <-ctx.Done():
	case <-time.After(interval):
	}
}

func (b *Bridge) sleepBackoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
}

func (b *Bridge) onBecameLeader(ctx context.Context) {
	b.becameActiveAt = time.Now()
	log.Printf("[ingest] %s is now ACTIVE", b.deviceID())
	b.notify(ctx, "🟢 now ACTIVE ("+b.version+")")
}

func (b *Bridge) deviceID() string {
	if b.registry == nil {
		return "standalone"
	}
	return b.registry.DeviceID()
}

// notify sends a one-line message to the configured chat/thread,
// best-effort, for events external to any in-flight turn (§7 "at most one
// Telegram message per distinct event").
func (b *Bridge) notify(ctx context.Context, text string) {
	if _, err := b.tg.SendMessage(ctx, b.cfg.ChatID, b.cfg.ThreadID, text, nil, 0); err != nil {
		log.Printf("[bridge] notify failed: %v", err)
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// ensureSession returns the active session, creating one on first use.
func (b *Bridge) ensureSession() *session.Session {
	if b.sess == nil {
		b.sess = session.NewSession(newSessionID(), b.cfg.ThreadID)
	}
	return b.sess
}

// AdoptSession pins the session id used for the lifetime of this process,
// for resuming an existing agent session instead of starting a fresh one
// (§6.5 CLI "<binary> [directory] [session-id]").
func (b *Bridge) AdoptSession(sessionID string) {
	if sessionID == "" {
		return
	}
	b.sess = session.NewSession(sessionID, b.cfg.ThreadID)
}

// Shutdown releases any live typing-indicator handles before exit (§6.5
// graceful shutdown: "release typing handles, exit 0").
func (b *Bridge) Shutdown() {
	for _, stream := range b.streams {
		b.releaseTyping(stream)
	}
}
