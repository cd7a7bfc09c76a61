// Package api is the HTTP surface of the regatta daemon: the scoreboard
// page, the JSON endpoints it reads, and the console management routes.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sylteon/uzlarska-regata/internal/db"
	"github.com/Sylteon/uzlarska-regata/internal/race"
	"github.com/Sylteon/uzlarska-regata/internal/serialmux"
	"github.com/Sylteon/uzlarska-regata/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// startLine is what the operator start endpoint feeds to the engine. It
// goes through the same decode path as a line from the console, so the
// HTTP layer never mutates race state directly.
const startLine = "START RACE"

type Server struct {
	engine  *race.Engine
	console serialmux.SerialMuxInterface
	manager *ConsolePortManager
	db      *db.DB
	source  string
}

// NewServer wires the HTTP layer to the running engine and console mux.
// database may be nil when the daemon runs with a CSV sink; the recorded
// results and console config routes then answer with errors instead of
// data. source is a human-readable description of where console lines
// come from (port path, UDP address, "mock", "disabled").
func NewServer(engine *race.Engine, console serialmux.SerialMuxInterface, database *db.DB, source string) *Server {
	manager, _ := console.(*ConsolePortManager)
	return &Server{
		engine:  engine,
		console: console,
		manager: manager,
		db:      database,
		source:  source,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/race", s.showRace)
	mux.HandleFunc("/api/race/start", s.startRace)
	mux.HandleFunc("/api/races", s.listRaces)
	mux.HandleFunc("/api/races/", s.handleRaceByID)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/events", s.streamEvents)
	mux.HandleFunc("/api/console/reload", s.handleConsoleReload)
	mux.HandleFunc("/api/console/configs", s.handleConsoleConfigsOrCreate)
	mux.HandleFunc("/api/console/configs/", s.handleConsoleConfigByID)
	mux.HandleFunc("/api/console/test", s.handleConsoleTest)
	mux.HandleFunc("/api/console/devices", s.handleConsoleDevices)
	mux.HandleFunc("/", s.showScoreboard)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// showRace returns the most recently published board snapshot.
func (s *Server) showRace(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.engine.Snapshot()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write snapshot")
		return
	}
}

// startRace restarts the race board from the operator UI. The start goes
// through the engine's inject channel like any console line, which keeps
// epoch bookkeeping and result flushing on the engine goroutine.
func (s *Server) startRace(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.engine.Inject(startLine); err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("Failed to start race: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"status": "race started"})
}

// listRaces returns recorded races, newest first, without lane detail.
func (s *Server) listRaces(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "No results database configured")
		return
	}

	limit := 0 // store default
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	races, err := s.db.ListRaces(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve races: %v", err))
		return
	}
	if races == nil {
		races = []db.RaceRecord{}
	}

	if err := json.NewEncoder(w).Encode(races); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write races")
		return
	}
}

// handleRaceByID returns one recorded race with its lane rows.
func (s *Server) handleRaceByID(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "No results database configured")
		return
	}

	raceID := strings.TrimPrefix(r.URL.Path, "/api/races/")
	if raceID == "" || strings.Contains(raceID, "/") {
		s.writeJSONError(w, http.StatusBadRequest, "Missing race ID")
		return
	}

	record, err := s.db.GetRace(raceID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve race: %v", err))
		return
	}
	if record == nil {
		s.writeJSONError(w, http.StatusNotFound, "Race not found")
		return
	}

	if err := json.NewEncoder(w).Encode(record); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write race")
		return
	}
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}

	if err := s.console.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	config := map[string]interface{}{
		"lanes":      s.engine.LaneCount(),
		"tick_ms":    s.engine.TickInterval().Milliseconds(),
		"source":     s.source,
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	}

	if err := json.NewEncoder(w).Encode(config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
