package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"homedash/internal/bridge"
	"homedash/internal/config"
	"homedash/internal/ha"

	"go.uber.org/zap"
)

// Manager owns the live table. It is seeded from the hub's REST API and then
// kept current by folding relayed push frames in arrival order.
type Manager struct {
	gateway ha.Gateway
	logger  *zap.Logger

	mu      sync.RWMutex
	table   Table
	applied uint64
}

// NewManager creates a new state manager
func NewManager(gateway ha.Gateway, descriptors *config.Descriptors, logger *zap.Logger) *Manager {
	return &Manager{
		gateway: gateway,
		logger:  logger.Named("state"),
		table:   NewTable(descriptors),
	}
}

// SyncFromHub replaces the table with every state the hub currently reports
func (m *Manager) SyncFromHub(ctx context.Context) error {
	m.logger.Info("Syncing state from Home Assistant...")

	states, err := m.gateway.FetchAllStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to get states: %w", err)
	}

	m.install(states, nil)
	return nil
}

// install swaps in a table built from states, then replays frames that
// arrived while those states were being fetched.
func (m *Manager) install(states []ha.State, replay [][]byte) {
	m.mu.Lock()
	table := NewTable(m.table.Descriptors()).ApplyAll(states)
	for _, frame := range replay {
		if next, changed, err := table.ApplyEvent(frame); err == nil && changed {
			table = next
		}
	}
	m.table = table
	described := 0
	for _, s := range states {
		if e, ok := table.Get(s.EntityID); ok && e.Descriptor != nil {
			described++
		}
	}
	m.mu.Unlock()

	m.logger.Info("State sync complete",
		zap.Int("entities", len(states)),
		zap.Int("described", described),
		zap.Int("replayed", len(replay)))
}

// Snapshot returns the current table; it is immutable and safe to share
func (m *Manager) Snapshot() Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table
}

// Applied returns how many state changes have been folded in since start
func (m *Manager) Applied() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applied
}

// isConnected reports whether frame is the bridge's "connected" notification
func isConnected(frame []byte) bool {
	var n bridge.Notification
	return json.Unmarshal(frame, &n) == nil && n.Type == bridge.NotifyConnected
}

// HandleFrame folds one relayed frame into the table
func (m *Manager) HandleFrame(frame []byte) {
	m.mu.Lock()
	next, changed, err := m.table.ApplyEvent(frame)
	if changed {
		m.table = next
		m.applied++
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("Ignoring frame", zap.Error(err))
	}
}

type resyncResult struct {
	states []ha.State
	err    error
}

// Run consumes frames until ctx is cancelled or frames is closed.
//
// A bridge "connected" notification triggers a resync, since changes made
// while the push channel was down were never relayed. The fetch runs in the
// background so frames keep being folded; frames that arrive meanwhile are
// replayed over the fetched states, which keeps the newest value per entity.
func (m *Manager) Run(ctx context.Context, frames <-chan []byte) error {
	results := make(chan resyncResult, 1)
	var (
		syncing bool
		again   bool
		pending [][]byte
	)

	startResync := func() {
		syncing, again, pending = true, false, nil
		m.logger.Info("Resyncing state after reconnect")
		go func() {
			states, err := m.gateway.FetchAllStates(ctx)
			results <- resyncResult{states: states, err: err}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if isConnected(frame) {
				if syncing {
					// The fetch in flight may predate this reconnect
					again = true
				} else {
					startResync()
				}
				continue
			}
			m.HandleFrame(frame)
			if syncing {
				pending = append(pending, frame)
			}

		case res := <-results:
			if res.err != nil {
				m.logger.Warn("Resync after reconnect failed", zap.Error(res.err))
			} else {
				m.install(res.states, pending)
			}
			syncing, pending = false, nil
			if again {
				startResync()
			}
		}
	}
}
