package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sylteon/uzlarska-regata/internal/db"
	"github.com/Sylteon/uzlarska-regata/internal/serialmux"
)

// ConsoleConfigRequest represents the request body for creating/updating
// stored console port configurations
type ConsoleConfigRequest struct {
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// validate checks required fields and normalizes the serial parameters,
// filling 9600 8N1 defaults. Returns a message suitable for a 400.
func (req *ConsoleConfigRequest) validate() (serialmux.PortOptions, string) {
	if req.Name == "" {
		return serialmux.PortOptions{}, "Name is required"
	}
	if req.PortPath == "" {
		return serialmux.PortOptions{}, "Port path is required"
	}
	if !isValidPortPath(req.PortPath) {
		return serialmux.PortOptions{}, "Invalid port path. Must start with /dev/tty or /dev/serial"
	}

	opts := serialmux.PortOptions{
		BaudRate: req.BaudRate,
		DataBits: req.DataBits,
		StopBits: req.StopBits,
		Parity:   req.Parity,
	}
	normalized, err := opts.Normalize()
	if err != nil {
		return serialmux.PortOptions{}, fmt.Sprintf("Invalid serial parameters: %v", err)
	}
	return normalized, ""
}

// handleConsoleConfigsOrCreate handles GET and POST to /api/console/configs
func (s *Server) handleConsoleConfigsOrCreate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleConsoleConfigs(w, r)
	case http.MethodPost:
		s.handleCreateConsoleConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleConsoleConfigs handles GET /api/console/configs - List all stored configurations
func (s *Server) handleConsoleConfigs(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "No results database configured", http.StatusNotFound)
		return
	}

	configs, err := s.db.GetSerialConfigs()
	if err != nil {
		log.Printf("Error fetching console configs: %v", err)
		http.Error(w, "Failed to fetch console configurations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(configs)
}

// handleConsoleConfigByID handles GET/PUT/DELETE /api/console/configs/:id
func (s *Server) handleConsoleConfigByID(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "No results database configured", http.StatusNotFound)
		return
	}

	// Extract ID from URL path
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/console/configs/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		http.Error(w, "Missing config ID", http.StatusBadRequest)
		return
	}

	id, err := strconv.Atoi(pathParts[0])
	if err != nil {
		http.Error(w, "Invalid config ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetConsoleConfig(w, r, id)
	case http.MethodPut:
		s.handleUpdateConsoleConfig(w, r, id)
	case http.MethodDelete:
		s.handleDeleteConsoleConfig(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGetConsoleConfig handles GET /api/console/configs/:id
func (s *Server) handleGetConsoleConfig(w http.ResponseWriter, r *http.Request, id int) {
	config, err := s.db.GetSerialConfig(id)
	if err != nil {
		log.Printf("Error fetching console config %d: %v", id, err)
		http.Error(w, "Failed to fetch console configuration", http.StatusInternalServerError)
		return
	}

	if config == nil {
		http.Error(w, "Configuration not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(config)
}

// handleCreateConsoleConfig handles POST /api/console/configs
func (s *Server) handleCreateConsoleConfig(w http.ResponseWriter, r *http.Request) {
	var req ConsoleConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	opts, msg := req.validate()
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	config := &db.SerialConfig{
		Name:        req.Name,
		PortPath:    req.PortPath,
		BaudRate:    opts.BaudRate,
		DataBits:    opts.DataBits,
		StopBits:    opts.StopBits,
		Parity:      opts.Parity,
		Enabled:     req.Enabled,
		Description: req.Description,
	}

	id, err := s.db.CreateSerialConfig(config)
	if err != nil {
		log.Printf("Error creating console config: %v", err)
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			http.Error(w, "Configuration with this name already exists", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to create console configuration", http.StatusInternalServerError)
		return
	}

	// Fetch the created config to return it
	created, err := s.db.GetSerialConfig(int(id))
	if err != nil {
		log.Printf("Error fetching created config: %v", err)
		http.Error(w, "Configuration created but failed to fetch", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// handleUpdateConsoleConfig handles PUT /api/console/configs/:id
func (s *Server) handleUpdateConsoleConfig(w http.ResponseWriter, r *http.Request, id int) {
	var req ConsoleConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	opts, msg := req.validate()
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	config := &db.SerialConfig{
		ID:          id,
		Name:        req.Name,
		PortPath:    req.PortPath,
		BaudRate:    opts.BaudRate,
		DataBits:    opts.DataBits,
		StopBits:    opts.StopBits,
		Parity:      opts.Parity,
		Enabled:     req.Enabled,
		Description: req.Description,
	}

	err := s.db.UpdateSerialConfig(config)
	if err != nil {
		log.Printf("Error updating console config %d: %v", id, err)
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Configuration not found", http.StatusNotFound)
			return
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			http.Error(w, "Configuration with this name already exists", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to update console configuration", http.StatusInternalServerError)
		return
	}

	// Fetch the updated config to return it
	updated, err := s.db.GetSerialConfig(id)
	if err != nil {
		log.Printf("Error fetching updated config: %v", err)
		http.Error(w, "Configuration updated but failed to fetch", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// handleDeleteConsoleConfig handles DELETE /api/console/configs/:id
func (s *Server) handleDeleteConsoleConfig(w http.ResponseWriter, r *http.Request, id int) {
	err := s.db.DeleteSerialConfig(id)
	if err != nil {
		log.Printf("Error deleting console config %d: %v", id, err)
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Configuration not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete console configuration", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// isValidPortPath validates that a port path is in an allowed format
func isValidPortPath(path string) bool {
	return strings.HasPrefix(path, "/dev/tty") || strings.HasPrefix(path, "/dev/serial")
}
