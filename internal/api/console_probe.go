package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/Sylteon/uzlarska-regata/internal/serialmux"
)

// ConsoleTestRequest represents the request body for probing a console port
type ConsoleTestRequest struct {
	PortPath       string `json:"port_path"`
	BaudRate       int    `json:"baud_rate"`
	DataBits       int    `json:"data_bits"`
	StopBits       int    `json:"stop_bits"`
	Parity         string `json:"parity"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ConsoleTestResponse represents the response from probing a console port
type ConsoleTestResponse struct {
	Success        bool                   `json:"success"`
	PortPath       string                 `json:"port_path"`
	BaudRate       int                    `json:"baud_rate"`
	TestDurationMS int64                  `json:"test_duration_ms"`
	BytesReceived  int                    `json:"bytes_received,omitempty"`
	SampleData     string                 `json:"sample_data,omitempty"`
	RawResponses   []ConsoleCommandResult `json:"raw_responses,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Message        string                 `json:"message"`
	Suggestion     string                 `json:"suggestion,omitempty"`
}

// ConsoleCommandResult represents a single command/response pair
type ConsoleCommandResult struct {
	Command  string `json:"command"`
	Response string `json:"response"`
}

// ConsoleDeviceInfo represents information about a discovered serial device
type ConsoleDeviceInfo struct {
	PortPath     string `json:"port_path"`
	FriendlyName string `json:"friendly_name"`
	LastSeen     int64  `json:"last_seen"`
}

// handleConsoleTest handles POST /api/console/test. A failed probe is a
// result, not an API error, so it still answers 200 with Success false.
func (s *Server) handleConsoleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ConsoleTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.PortPath == "" {
		http.Error(w, "Port path is required", http.StatusBadRequest)
		return
	}
	if !isValidPortPath(req.PortPath) {
		http.Error(w, "Invalid port path. Must start with /dev/tty or /dev/serial", http.StatusBadRequest)
		return
	}
	if req.TimeoutSeconds == 0 {
		req.TimeoutSeconds = 5
	}

	result := probeConsolePort(req)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// probeConsolePort opens the port with the requested parameters and asks
// the console for its version and clock. Any readable answer counts as a
// live console; the exact reply text varies between firmware revisions.
func probeConsolePort(req ConsoleTestRequest) ConsoleTestResponse {
	startTime := time.Now()

	opts := serialmux.PortOptions{
		BaudRate: req.BaudRate,
		DataBits: req.DataBits,
		StopBits: req.StopBits,
		Parity:   req.Parity,
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return ConsoleTestResponse{
			Success:        false,
			PortPath:       req.PortPath,
			BaudRate:       req.BaudRate,
			TestDurationMS: time.Since(startTime).Milliseconds(),
			Error:          fmt.Sprintf("Invalid serial parameters: %v", err),
			Message:        "Console port test failed",
			Suggestion:     "Parity must be one of: N (None), E (Even), O (Odd)",
		}
	}

	port, err := serial.Open(req.PortPath, mode)
	if err != nil {
		return ConsoleTestResponse{
			Success:        false,
			PortPath:       req.PortPath,
			BaudRate:       mode.BaudRate,
			TestDurationMS: time.Since(startTime).Milliseconds(),
			Error:          fmt.Sprintf("Failed to open port: %v", err),
			Message:        "Console port test failed",
			Suggestion:     getSuggestionForError(err),
		}
	}
	defer port.Close()

	if err := port.SetReadTimeout(time.Duration(req.TimeoutSeconds) * time.Second); err != nil {
		log.Printf("Warning: Failed to set read timeout: %v", err)
	}

	var rawResponses []ConsoleCommandResult
	var totalBytesRead int

	// Query firmware version and console clock
	testCommands := []string{"VER?", "CLK?"}

	for _, cmd := range testCommands {
		_, err := port.Write([]byte(cmd + "\n"))
		if err != nil {
			log.Printf("Warning: Failed to write command %s: %v", cmd, err)
			continue
		}

		buf := make([]byte, 512)
		n, err := port.Read(buf)
		if err != nil {
			log.Printf("Warning: Failed to read response for %s: %v", cmd, err)
			continue
		}

		if n > 0 {
			totalBytesRead += n
			rawResponses = append(rawResponses, ConsoleCommandResult{
				Command:  cmd,
				Response: strings.TrimSpace(string(buf[:n])),
			})
		}
	}

	testDuration := time.Since(startTime).Milliseconds()

	if totalBytesRead == 0 {
		return ConsoleTestResponse{
			Success:        false,
			PortPath:       req.PortPath,
			BaudRate:       mode.BaudRate,
			TestDurationMS: testDuration,
			BytesReceived:  0,
			Error:          "No response from console",
			Message:        "Console port test failed",
			Suggestion:     "The console ships at 9600 baud. Check the rate, the cable, and that the console is powered on.",
		}
	}

	sampleData := ""
	if len(rawResponses) > 0 {
		sampleData = rawResponses[0].Response
		if len(sampleData) > 100 {
			sampleData = sampleData[:100] + "..."
		}
	}

	return ConsoleTestResponse{
		Success:        true,
		PortPath:       req.PortPath,
		BaudRate:       mode.BaudRate,
		TestDurationMS: testDuration,
		BytesReceived:  totalBytesRead,
		SampleData:     sampleData,
		RawResponses:   rawResponses,
		Message:        "Console port communication successful",
	}
}

// getSuggestionForError provides helpful suggestions based on error type
func getSuggestionForError(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "no such file") || strings.Contains(errStr, "not found") {
		return "Check that the console is connected and appears in /dev/"
	}

	if strings.Contains(errStr, "permission denied") {
		return "Run: sudo usermod -a -G dialout $USER && sudo reboot"
	}

	if strings.Contains(errStr, "resource busy") || strings.Contains(errStr, "device busy") {
		return "Another process may be using the port. Stop other applications using this serial port."
	}

	return "Check device connection and permissions"
}

// handleConsoleDevices handles GET /api/console/devices - List serial
// devices that are present but not yet stored as a configuration.
func (s *Server) handleConsoleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	configuredPorts := make(map[string]bool)
	if s.db != nil {
		existingConfigs, err := s.db.GetSerialConfigs()
		if err != nil {
			log.Printf("Error fetching existing configs: %v", err)
			http.Error(w, "Failed to fetch existing configurations", http.StatusInternalServerError)
			return
		}
		for _, config := range existingConfigs {
			configuredPorts[config.PortPath] = true
		}
	}

	ports, err := serial.GetPortsList()
	if err != nil {
		log.Printf("Error enumerating serial ports: %v", err)
		http.Error(w, "Failed to enumerate serial ports", http.StatusInternalServerError)
		return
	}

	devices := []ConsoleDeviceInfo{}
	now := time.Now().Unix()

	for _, portPath := range ports {
		if configuredPorts[portPath] {
			continue
		}

		devices = append(devices, ConsoleDeviceInfo{
			PortPath:     portPath,
			FriendlyName: getFriendlyName(portPath),
			LastSeen:     now,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(devices)
}

// getFriendlyName generates a user-friendly name for a serial port
func getFriendlyName(portPath string) string {
	parts := strings.Split(portPath, "/")
	if len(parts) > 0 {
		deviceName := parts[len(parts)-1]

		switch {
		case strings.HasPrefix(deviceName, "ttyUSB"):
			return fmt.Sprintf("USB Serial Adapter (%s)", deviceName)
		case strings.HasPrefix(deviceName, "ttyACM"):
			return fmt.Sprintf("USB CDC Device (%s)", deviceName)
		case strings.HasPrefix(deviceName, "ttyAMA"):
			return fmt.Sprintf("Raspberry Pi Serial (%s)", deviceName)
		default:
			return deviceName
		}
	}

	return portPath
}
