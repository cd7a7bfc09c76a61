package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sylteon/uzlarska-regata/internal/db"
	"github.com/Sylteon/uzlarska-regata/internal/serialmux"
)

// openTestDB returns a migrated results database in the test's temp dir.
func openTestDB(t *testing.T) *db.DB {
	t.Helper()

	dbInst, err := db.NewDB(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { dbInst.Close() })

	return dbInst
}

// createConsoleConfig stores a console port configuration and returns its ID.
func createConsoleConfig(t *testing.T, dbInst *db.DB, name, portPath string, baudRate int, enabled bool) int {
	t.Helper()

	id, err := dbInst.CreateSerialConfig(&db.SerialConfig{
		Name:     name,
		PortPath: portPath,
		BaudRate: baudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Enabled:  enabled,
	})
	if err != nil {
		t.Fatalf("failed to create console config: %v", err)
	}

	return int(id)
}

// recordingOpener is a MuxOpener that hands out mock muxes and records
// every open call.
type recordingOpener struct {
	mu    sync.Mutex
	paths []string
	opts  []serialmux.PortOptions
}

func (o *recordingOpener) open(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, path)
	o.opts = append(o.opts, opts)
	return serialmux.NewMockSerialMux(nil, 0), nil
}

func (o *recordingOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.paths)
}

func (o *recordingOpener) lastOpen() (string, serialmux.PortOptions) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.paths) == 0 {
		return "", serialmux.PortOptions{}
	}
	return o.paths[len(o.paths)-1], o.opts[len(o.opts)-1]
}

// TestConsolePortManager_Subscribe tests that Subscribe returns persistent channels
func TestConsolePortManager_Subscribe(t *testing.T) {
	mockMux := serialmux.NewMockSerialMux(nil, 0)
	snapshot := ConsoleConfigSnapshot{
		PortPath: "/dev/test",
		Options:  serialmux.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
		Source:   "test",
	}

	manager := NewConsolePortManager(nil, mockMux, snapshot, nil)
	defer manager.Close()

	// Subscribe should return a valid channel
	id, ch := manager.Subscribe()
	if id == "" {
		t.Error("Expected non-empty subscriber ID")
	}
	if ch == nil {
		t.Fatal("Expected non-nil channel")
	}

	// Verify channel is open
	select {
	case <-ch:
		t.Error("Channel should not be closed immediately")
	case <-time.After(10 * time.Millisecond):
		// Expected: channel is open and empty
	}

	// Unsubscribe should close the channel
	manager.Unsubscribe(id)

	// Verify channel is closed after unsubscribe
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Channel should be closed after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Channel should be closed immediately after unsubscribe")
	}
}

// TestConsolePortManager_FanoutDeliversLines tests that console lines reach
// manager subscribers through the fanout
func TestConsolePortManager_FanoutDeliversLines(t *testing.T) {
	mockMux := serialmux.NewMockSerialMux([]string{"1 TIME"}, 20*time.Millisecond)
	snapshot := ConsoleConfigSnapshot{
		PortPath: "/dev/test",
		Source:   "test",
	}

	manager := NewConsolePortManager(nil, mockMux, snapshot, nil)
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Monitor(ctx)

	_, ch := manager.Subscribe()

	select {
	case line := <-ch:
		if line != "1 TIME" {
			t.Errorf("Expected line '1 TIME', got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a console line through the manager fanout")
	}
}

// TestConsolePortManager_SendCommand tests command delegation
func TestConsolePortManager_SendCommand(t *testing.T) {
	mockMux := serialmux.NewMockSerialMux(nil, 0)
	snapshot := ConsoleConfigSnapshot{
		PortPath: "/dev/test",
		Options:  serialmux.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
		Source:   "test",
	}

	manager := NewConsolePortManager(nil, mockMux, snapshot, nil)
	defer manager.Close()

	// SendCommand should delegate to the current mux
	err := manager.SendCommand("CLK?")
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

// TestConsolePortManager_CloseAndSendCommand tests that SendCommand fails after Close
func TestConsolePortManager_CloseAndSendCommand(t *testing.T) {
	mockMux := serialmux.NewMockSerialMux(nil, 0)
	snapshot := ConsoleConfigSnapshot{
		PortPath: "/dev/test",
		Options:  serialmux.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
		Source:   "test",
	}

	manager := NewConsolePortManager(nil, mockMux, snapshot, nil)
	manager.Close()

	// SendCommand should fail after Close
	err := manager.SendCommand("CLK?")
	if err == nil {
		t.Error("Expected error after Close, got nil")
	}
}

// TestConsolePortManager_Snapshot tests configuration snapshot
func TestConsolePortManager_Snapshot(t *testing.T) {
	snapshot := ConsoleConfigSnapshot{
		ConfigID: 42,
		Name:     "Finish tower",
		PortPath: "/dev/ttyUSB0",
		Source:   "database",
		Options:  serialmux.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
	}

	manager := NewConsolePortManager(nil, nil, snapshot, nil)
	defer manager.Close()

	got := manager.Snapshot()
	if got.ConfigID != 42 {
		t.Errorf("Expected config ID 42, got %d", got.ConfigID)
	}
	if got.Name != "Finish tower" {
		t.Errorf("Expected name 'Finish tower', got '%s'", got.Name)
	}
	if got.PortPath != "/dev/ttyUSB0" {
		t.Errorf("Expected port '/dev/ttyUSB0', got '%s'", got.PortPath)
	}
}

// TestConsolePortManager_EmptySnapshot tests empty snapshot when no config applied
func TestConsolePortManager_EmptySnapshot(t *testing.T) {
	manager := NewConsolePortManager(nil, nil, ConsoleConfigSnapshot{}, nil)
	defer manager.Close()

	got := manager.Snapshot()
	if got.PortPath != "" {
		t.Errorf("Expected empty port path, got '%s'", got.PortPath)
	}
}

// TestConsolePortManager_SubscribeAfterClose tests that Subscribe returns closed channel after Close
func TestConsolePortManager_SubscribeAfterClose(t *testing.T) {
	manager := NewConsolePortManager(nil, nil, ConsoleConfigSnapshot{}, nil)
	manager.Close()

	// Allow fanout to shut down
	time.Sleep(50 * time.Millisecond)

	id, ch := manager.Subscribe()
	if id != "" {
		t.Errorf("Expected empty ID after close, got %q", id)
	}

	// Channel should be closed
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Channel should be closed after manager is closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Channel should be closed immediately")
	}
}

// TestConsolePortManager_ReloadConfig tests swapping the mux to a stored config
func TestConsolePortManager_ReloadConfig(t *testing.T) {
	dbInst := openTestDB(t)
	configID := createConsoleConfig(t, dbInst, "Finish tower", "/dev/ttyUSB0", 19200, true)

	opener := &recordingOpener{}
	initial := serialmux.NewMockSerialMux(nil, 0)
	manager := NewConsolePortManager(dbInst, initial, ConsoleConfigSnapshot{}, opener.open)
	defer manager.Close()

	result, err := manager.ReloadConfig(context.Background(), configID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !result.Success {
		t.Errorf("Expected success, got message %q", result.Message)
	}
	if result.Config == nil || result.Config.ConfigID != configID {
		t.Errorf("Expected result config ID %d, got %+v", configID, result.Config)
	}

	if opener.openCount() != 1 {
		t.Fatalf("Expected 1 open call, got %d", opener.openCount())
	}
	path, opts := opener.lastOpen()
	if path != "/dev/ttyUSB0" {
		t.Errorf("Expected open on /dev/ttyUSB0, got %s", path)
	}
	if opts.BaudRate != 19200 {
		t.Errorf("Expected baud rate 19200, got %d", opts.BaudRate)
	}

	snap := manager.Snapshot()
	if snap.PortPath != "/dev/ttyUSB0" {
		t.Errorf("Expected snapshot port /dev/ttyUSB0, got %s", snap.PortPath)
	}
	if snap.Source != "database" {
		t.Errorf("Expected snapshot source 'database', got %s", snap.Source)
	}

	if manager.CurrentMux() == initial {
		t.Error("Expected the active mux to change after reload")
	}
}

// TestConsolePortManager_ReloadConfig_AlreadyActive tests that reloading the
// active config does not reopen the port
func TestConsolePortManager_ReloadConfig_AlreadyActive(t *testing.T) {
	dbInst := openTestDB(t)
	configID := createConsoleConfig(t, dbInst, "Finish tower", "/dev/ttyUSB0", 19200, true)

	opener := &recordingOpener{}
	manager := NewConsolePortManager(dbInst, serialmux.NewMockSerialMux(nil, 0), ConsoleConfigSnapshot{}, opener.open)
	defer manager.Close()

	if _, err := manager.ReloadConfig(context.Background(), configID); err != nil {
		t.Fatalf("first reload failed: %v", err)
	}

	result, err := manager.ReloadConfig(context.Background(), configID)
	if err != nil {
		t.Fatalf("second reload failed: %v", err)
	}
	if !result.Success {
		t.Errorf("Expected success, got message %q", result.Message)
	}
	if !strings.Contains(result.Message, "already active") {
		t.Errorf("Expected 'already active' message, got %q", result.Message)
	}

	if opener.openCount() != 1 {
		t.Errorf("Expected the port to open once, got %d open calls", opener.openCount())
	}
}

// TestConsolePortManager_ReloadConfig_FirstEnabled tests that config ID zero
// selects the first enabled configuration
func TestConsolePortManager_ReloadConfig_FirstEnabled(t *testing.T) {
	dbInst := openTestDB(t)
	createConsoleConfig(t, dbInst, "Broken console", "/dev/ttyUSB0", 9600, false)
	enabledID := createConsoleConfig(t, dbInst, "Dock console", "/dev/ttyUSB1", 9600, true)

	opener := &recordingOpener{}
	manager := NewConsolePortManager(dbInst, serialmux.NewMockSerialMux(nil, 0), ConsoleConfigSnapshot{}, opener.open)
	defer manager.Close()

	result, err := manager.ReloadConfig(context.Background(), 0)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Config == nil || result.Config.ConfigID != enabledID {
		t.Errorf("Expected config ID %d, got %+v", enabledID, result.Config)
	}

	path, _ := opener.lastOpen()
	if path != "/dev/ttyUSB1" {
		t.Errorf("Expected open on /dev/ttyUSB1, got %s", path)
	}
}

// TestConsolePortManager_ReloadConfig_NotFound tests reload of a missing config ID
func TestConsolePortManager_ReloadConfig_NotFound(t *testing.T) {
	dbInst := openTestDB(t)

	opener := &recordingOpener{}
	manager := NewConsolePortManager(dbInst, serialmux.NewMockSerialMux(nil, 0), ConsoleConfigSnapshot{}, opener.open)
	defer manager.Close()

	_, err := manager.ReloadConfig(context.Background(), 999)
	if err == nil {
		t.Fatal("Expected error for missing config, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected 'not found' error, got %v", err)
	}
}

// TestConsolePortManager_ReloadConfig_Disabled tests reload of a disabled config
func TestConsolePortManager_ReloadConfig_Disabled(t *testing.T) {
	dbInst := openTestDB(t)
	configID := createConsoleConfig(t, dbInst, "Mothballed console", "/dev/ttyUSB0", 9600, false)

	opener := &recordingOpener{}
	manager := NewConsolePortManager(dbInst, serialmux.NewMockSerialMux(nil, 0), ConsoleConfigSnapshot{}, opener.open)
	defer manager.Close()

	_, err := manager.ReloadConfig(context.Background(), configID)
	if err == nil {
		t.Fatal("Expected error for disabled config, got nil")
	}
	if !strings.Contains(err.Error(), "disabled") {
		t.Errorf("Expected 'disabled' error, got %v", err)
	}
}

// TestConsolePortManager_ReloadConfig_NoEnabledConfigs tests reload with an empty store
func TestConsolePortManager_ReloadConfig_NoEnabledConfigs(t *testing.T) {
	dbInst := openTestDB(t)

	opener := &recordingOpener{}
	manager := NewConsolePortManager(dbInst, serialmux.NewMockSerialMux(nil, 0), ConsoleConfigSnapshot{}, opener.open)
	defer manager.Close()

	_, err := manager.ReloadConfig(context.Background(), 0)
	if err == nil {
		t.Fatal("Expected error with no enabled configs, got nil")
	}
	if !strings.Contains(err.Error(), "no enabled console configurations") {
		t.Errorf("Expected 'no enabled console configurations' error, got %v", err)
	}
}

// TestConsolePortManager_ReloadConfig_NoDatabase tests reload without a results database
func TestConsolePortManager_ReloadConfig_NoDatabase(t *testing.T) {
	opener := &recordingOpener{}
	manager := NewConsolePortManager(nil, serialmux.NewMockSerialMux(nil, 0), ConsoleConfigSnapshot{}, opener.open)
	defer manager.Close()

	_, err := manager.ReloadConfig(context.Background(), 0)
	if err == nil {
		t.Fatal("Expected error without a database, got nil")
	}
}

// TestHandleConsoleReload tests POST /api/console/reload against a managed console
func TestHandleConsoleReload(t *testing.T) {
	dbInst := openTestDB(t)
	configID := createConsoleConfig(t, dbInst, "Finish tower", "/dev/ttyUSB0", 9600, true)

	opener := &recordingOpener{}
	manager := NewConsolePortManager(dbInst, serialmux.NewMockSerialMux(nil, 0), ConsoleConfigSnapshot{}, opener.open)
	t.Cleanup(func() { manager.Close() })

	engine := startTestEngine(t)
	server := NewServer(engine, manager, dbInst, "database")

	body, _ := json.Marshal(ConsoleReloadRequest{ConfigID: configID})
	req := httptest.NewRequest("POST", "/api/console/reload", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.handleConsoleReload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}

	var result ConsoleReloadResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !result.Success {
		t.Errorf("Expected success, got message %q", result.Message)
	}
}

// TestHandleConsoleReload_EmptyBody tests that the request body is optional
func TestHandleConsoleReload_EmptyBody(t *testing.T) {
	dbInst := openTestDB(t)
	createConsoleConfig(t, dbInst, "Finish tower", "/dev/ttyUSB0", 9600, true)

	opener := &recordingOpener{}
	manager := NewConsolePortManager(dbInst, serialmux.NewMockSerialMux(nil, 0), ConsoleConfigSnapshot{}, opener.open)
	t.Cleanup(func() { manager.Close() })

	engine := startTestEngine(t)
	server := NewServer(engine, manager, dbInst, "database")

	req := httptest.NewRequest("POST", "/api/console/reload", nil)
	w := httptest.NewRecorder()
	server.handleConsoleReload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}
}

// TestHandleConsoleReload_NotFound tests reload of a missing config over HTTP
func TestHandleConsoleReload_NotFound(t *testing.T) {
	dbInst := openTestDB(t)

	opener := &recordingOpener{}
	manager := NewConsolePortManager(dbInst, serialmux.NewMockSerialMux(nil, 0), ConsoleConfigSnapshot{}, opener.open)
	t.Cleanup(func() { manager.Close() })

	engine := startTestEngine(t)
	server := NewServer(engine, manager, dbInst, "database")

	body, _ := json.Marshal(ConsoleReloadRequest{ConfigID: 999})
	req := httptest.NewRequest("POST", "/api/console/reload", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.handleConsoleReload(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

// TestHandleConsoleReload_Unmanaged tests reload when the console is not managed
func TestHandleConsoleReload_Unmanaged(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("POST", "/api/console/reload", nil)
	w := httptest.NewRecorder()
	server.handleConsoleReload(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

// TestHandleConsoleReload_MethodNotAllowed tests GET on the reload endpoint
func TestHandleConsoleReload_MethodNotAllowed(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/console/reload", nil)
	w := httptest.NewRecorder()
	server.handleConsoleReload(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}
