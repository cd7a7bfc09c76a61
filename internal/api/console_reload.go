package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sylteon/uzlarska-regata/internal/db"
	"github.com/Sylteon/uzlarska-regata/internal/serialmux"
)

// ConsoleConfigSnapshot describes the port configuration currently applied
// to the running console mux. It mirrors the stored configuration model so
// API responses can report the active settings.
type ConsoleConfigSnapshot struct {
	ConfigID int                   `json:"config_id,omitempty"`
	Name     string                `json:"name,omitempty"`
	PortPath string                `json:"port_path"`
	Source   string                `json:"source"`
	Options  serialmux.PortOptions `json:"options"`
}

// ConsoleReloadResult is returned to API clients when a reload request is
// processed.
type ConsoleReloadResult struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Config  *ConsoleConfigSnapshot `json:"config,omitempty"`
}

// ConsolePortManager wraps a SerialMuxInterface and enables hot-swapping
// the console port from a stored configuration. It implements the
// SerialMuxInterface itself, so the engine feed, the API handlers and the
// admin routes all delegate to the active mux without extra wiring.
//
// Subscriptions survive reloads: Subscribe hands out channels from an
// internal fanout, and a background goroutine forwards lines from
// whichever mux is current. A reload closes and replaces only the
// manager's own mux subscription, never the subscriber-facing channels.
// Without this the engine would lose its line feed on every port change.
type ConsolePortManager struct {
	mu       sync.RWMutex
	current  serialmux.SerialMuxInterface
	snapshot *ConsoleConfigSnapshot
	closed   bool

	db     *db.DB
	opener serialmux.MuxOpener

	reloadMu sync.Mutex

	fanoutDone  chan struct{}
	fanoutMu    sync.RWMutex
	subscribers map[string]chan string
}

// NewConsolePortManager constructs a ConsolePortManager around an initial
// mux. The snapshot is optional; an empty port path means no stored
// configuration has been applied yet. The fanout goroutine started here
// runs until Close.
func NewConsolePortManager(database *db.DB, initial serialmux.SerialMuxInterface, snapshot ConsoleConfigSnapshot, opener serialmux.MuxOpener) *ConsolePortManager {
	mgr := &ConsolePortManager{
		current:     initial,
		db:          database,
		opener:      opener,
		fanoutDone:  make(chan struct{}),
		subscribers: make(map[string]chan string),
	}

	if snapshot.PortPath != "" {
		snap := snapshot
		mgr.snapshot = &snap
	}

	go mgr.runFanout()

	return mgr
}

// CurrentMux returns the mux currently in use. Callers must treat it as
// read-only; reconfiguration goes through ReloadConfig.
func (m *ConsolePortManager) CurrentMux() serialmux.SerialMuxInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns a copy of the active configuration snapshot.
func (m *ConsolePortManager) Snapshot() ConsoleConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return ConsoleConfigSnapshot{}
	}
	snap := *m.snapshot
	return snap
}

// runFanout subscribes to the current mux and forwards every line to the
// persistent subscriber channels, resubscribing whenever a reload closes
// the mux-side channel. Runs until Close signals fanoutDone.
func (m *ConsolePortManager) runFanout() {
	var muxSubID string
	var muxSubCh chan string

	defer func() {
		if muxSubID != "" {
			m.mu.RLock()
			mux := m.current
			m.mu.RUnlock()
			if mux != nil {
				mux.Unsubscribe(muxSubID)
			}
		}

		m.fanoutMu.Lock()
		for _, ch := range m.subscribers {
			close(ch)
		}
		m.subscribers = make(map[string]chan string)
		m.fanoutMu.Unlock()
	}()

	for {
		if muxSubID == "" {
			m.mu.RLock()
			mux := m.current
			closed := m.closed
			m.mu.RUnlock()

			if closed {
				return
			}

			if mux == nil {
				time.Sleep(250 * time.Millisecond)
				continue
			}
			muxSubID, muxSubCh = mux.Subscribe()
		}

		select {
		case <-m.fanoutDone:
			return

		case line, ok := <-muxSubCh:
			if !ok {
				// The mux closed its side, most likely a reload. Pick up
				// the replacement on the next pass.
				muxSubID = ""
				muxSubCh = nil
				time.Sleep(50 * time.Millisecond)
				continue
			}

			// Send while holding the lock so Unsubscribe cannot close a
			// channel mid-delivery.
			m.fanoutMu.RLock()
			for _, ch := range m.subscribers {
				select {
				case ch <- line:
				default:
					// Never let one stalled subscriber hold up the feed.
				}
			}
			m.fanoutMu.RUnlock()
		}
	}
}

// Subscribe returns a persistent channel from the fanout. The channel
// stays valid across reloads. After Close, Subscribe returns a closed
// channel.
func (m *ConsolePortManager) Subscribe() (string, chan string) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		ch := make(chan string)
		close(ch)
		return "", ch
	}

	id := uuid.NewString()
	ch := make(chan string, 10)

	m.fanoutMu.Lock()
	m.subscribers[id] = ch
	m.fanoutMu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber from the fanout and closes its channel.
func (m *ConsolePortManager) Unsubscribe(id string) {
	m.fanoutMu.Lock()
	defer m.fanoutMu.Unlock()

	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// SendCommand delegates to the current mux.
func (m *ConsolePortManager) SendCommand(command string) error {
	m.mu.RLock()
	mux := m.current
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return errors.New("console manager is closed")
	}
	if mux == nil {
		return errors.New("console mux unavailable")
	}
	return mux.SendCommand(command)
}

// Initialize delegates to the current mux.
func (m *ConsolePortManager) Initialize() error {
	m.mu.RLock()
	mux := m.current
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return errors.New("console manager is closed")
	}
	if mux == nil {
		return errors.New("console mux unavailable")
	}
	return mux.Initialize()
}

// Monitor proxies Monitor calls to the active mux. When a reload swaps
// the mux out, the exiting Monitor loops back and attaches to the new one.
func (m *ConsolePortManager) Monitor(ctx context.Context) error {
	for {
		mux := m.CurrentMux()
		if mux == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
				continue
			}
		}

		err := mux.Monitor(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("console monitor terminated with error: %v", err)
			time.Sleep(500 * time.Millisecond)
		} else if err == nil {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// Close closes the active mux and marks the manager closed. Only called
// during shutdown; afterwards SendCommand and Initialize error, Subscribe
// returns a closed channel, and all existing subscriber channels close.
func (m *ConsolePortManager) Close() error {
	m.mu.Lock()
	m.closed = true
	if m.current != nil {
		if err := m.current.Close(); err != nil {
			log.Printf("warning: failed to close console mux during shutdown: %v", err)
		}
	}
	m.current = nil
	m.mu.Unlock()

	close(m.fanoutDone)

	return nil
}

// AttachAdminRoutes registers the console debug routes against the
// manager, so they follow the active mux across reloads.
func (m *ConsolePortManager) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachAdminRoutesForMux(mux, m)
}

// ReloadConfig loads a stored port configuration and swaps the active
// mux to it. configID selects a specific row; zero means the first
// enabled configuration. The old mux is fully closed before the new one
// opens, because a serial port cannot be held twice and the new
// configuration may address the same device.
func (m *ConsolePortManager) ReloadConfig(ctx context.Context, configID int) (*ConsoleReloadResult, error) {
	if m.opener == nil {
		return nil, errors.New("console mux opener not configured")
	}
	if m.db == nil {
		return nil, errors.New("no results database configured")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	cfg, err := m.lookupConfig(configID)
	if err != nil {
		return nil, err
	}

	opts := serialmux.PortOptions{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
	}
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid console configuration: %w", err)
	}

	snap := ConsoleConfigSnapshot{
		ConfigID: cfg.ID,
		Name:     cfg.Name,
		PortPath: cfg.PortPath,
		Source:   "database",
		Options:  normalized,
	}

	current := m.Snapshot()
	if current.PortPath == cfg.PortPath && current.Options.Equal(normalized) {
		return &ConsoleReloadResult{
			Success: true,
			Message: fmt.Sprintf("Console configuration %q already active", cfg.Name),
			Config:  &snap,
		}, nil
	}

	m.mu.Lock()
	oldMux := m.current
	m.current = nil
	m.mu.Unlock()

	if oldMux != nil {
		log.Printf("Closing current console mux before reload...")
		if err := oldMux.Close(); err != nil {
			log.Printf("warning: failed to close previous console mux: %v", err)
		}
	}

	newMux, err := m.opener(cfg.PortPath, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to open console port %s: %w", cfg.PortPath, err)
	}

	if err := newMux.Initialize(); err != nil {
		newMux.Close()
		return nil, fmt.Errorf("failed to initialize console port: %w", err)
	}

	m.mu.Lock()
	m.current = newMux
	m.snapshot = &snap
	m.mu.Unlock()

	return &ConsoleReloadResult{
		Success: true,
		Message: fmt.Sprintf("Reloaded console configuration %q", cfg.Name),
		Config:  &snap,
	}, nil
}

func (m *ConsolePortManager) lookupConfig(configID int) (*db.SerialConfig, error) {
	if configID > 0 {
		cfg, err := m.db.GetSerialConfig(configID)
		if err != nil {
			return nil, fmt.Errorf("failed to load console configuration: %w", err)
		}
		if cfg == nil {
			return nil, fmt.Errorf("console configuration %d not found", configID)
		}
		if !cfg.Enabled {
			return nil, fmt.Errorf("console configuration %q is disabled", cfg.Name)
		}
		return cfg, nil
	}

	configs, err := m.db.GetEnabledSerialConfigs()
	if err != nil {
		return nil, fmt.Errorf("failed to load console configurations: %w", err)
	}
	if len(configs) == 0 {
		return nil, errors.New("no enabled console configurations found")
	}
	return &configs[0], nil
}

// ConsoleReloadRequest is the optional request body for the reload
// endpoint. Without a config_id the first enabled configuration wins.
type ConsoleReloadRequest struct {
	ConfigID int `json:"config_id"`
}

// handleConsoleReload handles POST /api/console/reload
func (s *Server) handleConsoleReload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.manager == nil {
		s.writeJSONError(w, http.StatusConflict, "Console port is not managed; reload unavailable")
		return
	}

	var req ConsoleReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.manager.ReloadConfig(r.Context(), req.ConfigID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			s.writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to reload console port: %v", err))
		return
	}

	json.NewEncoder(w).Encode(result)
}
