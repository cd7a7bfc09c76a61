package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sylteon/uzlarska-regata/internal/race"
	"github.com/Sylteon/uzlarska-regata/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical defaults file. This is
// the single source of truth for all default daemon settings.
const DefaultConfigPath = "config/regata.defaults.json"

// DefaultResultsPath is where race results land when no other artifact
// is selected.
const DefaultResultsPath = "results.csv"

// DefaultListenAddr is the HTTP listen address for the scoreboard and API.
const DefaultListenAddr = ":8080"

// DefaultConsolePort is the device path the timing console usually
// enumerates at.
const DefaultConsolePort = "/dev/ttyUSB0"

// Config represents the daemon settings. All fields are pointers so a
// partial JSON file only overrides what it names; the Get* methods
// provide fallback defaults for unset fields. Flag parsing stays in
// cmd/regata and is layered on top with Merge.
type Config struct {
	// Race params
	Lanes  *int `json:"lanes,omitempty"`
	TickMs *int `json:"tick_ms,omitempty"`

	// Results artifact params. At most one of the two paths is in
	// effect per run; a set results_db_path switches the sink to
	// sqlite.
	ResultsPath   *string `json:"results_path,omitempty"`
	ResultsDBPath *string `json:"results_db_path,omitempty"`

	// Console source params
	ConsolePort *string `json:"console_port,omitempty"`
	ConsoleBaud *int    `json:"console_baud,omitempty"`
	ListenUDP   *string `json:"listen_udp,omitempty"` // UDP bridge address, empty = disabled

	// HTTP params
	ListenAddr *string `json:"listen_addr,omitempty"`

	// Diagnostics
	LogUnrecognized *bool `json:"log_unrecognized,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyConfig returns a Config with all fields set to nil. Use
// LoadConfig to load actual values from a file.
func EmptyConfig() *Config {
	return &Config{}
}

// DefaultConfig returns a Config with every field set to its canonical
// default. config/regata.defaults.json duplicates these values for
// operators editing the file by hand.
func DefaultConfig() *Config {
	return &Config{
		Lanes:           ptrInt(race.DefaultLaneCount),
		TickMs:          ptrInt(int(race.DefaultTickInterval / time.Millisecond)),
		ResultsPath:     ptrString(DefaultResultsPath),
		ConsolePort:     ptrString(DefaultConsolePort),
		ConsoleBaud:     ptrInt(serialmux.DefaultBaudRate),
		ListenAddr:      ptrString(DefaultListenAddr),
		LogUnrecognized: ptrBool(false),
	}
}

// LoadConfig loads a Config from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file stay nil, so
// partial configs are safe.
func LoadConfig(path string) (*Config, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent
// directories. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Merge returns a copy of c with every field set in overlay taking
// precedence. Layering order is defaults, then the config file, then
// flags, each call overlaying the previous result.
func (c *Config) Merge(overlay *Config) *Config {
	out := *c
	if overlay == nil {
		return &out
	}
	if overlay.Lanes != nil {
		out.Lanes = overlay.Lanes
	}
	if overlay.TickMs != nil {
		out.TickMs = overlay.TickMs
	}
	if overlay.ResultsPath != nil {
		out.ResultsPath = overlay.ResultsPath
	}
	if overlay.ResultsDBPath != nil {
		out.ResultsDBPath = overlay.ResultsDBPath
	}
	if overlay.ConsolePort != nil {
		out.ConsolePort = overlay.ConsolePort
	}
	if overlay.ConsoleBaud != nil {
		out.ConsoleBaud = overlay.ConsoleBaud
	}
	if overlay.ListenUDP != nil {
		out.ListenUDP = overlay.ListenUDP
	}
	if overlay.ListenAddr != nil {
		out.ListenAddr = overlay.ListenAddr
	}
	if overlay.LogUnrecognized != nil {
		out.LogUnrecognized = overlay.LogUnrecognized
	}
	return &out
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	// Lane selectors on the wire are single digits
	if c.Lanes != nil {
		if *c.Lanes < 1 || *c.Lanes > race.MaxLaneCount {
			return fmt.Errorf("lanes must be between 1 and %d, got %d", race.MaxLaneCount, *c.Lanes)
		}
	}

	if c.TickMs != nil {
		if *c.TickMs < 5 || *c.TickMs > 1000 {
			return fmt.Errorf("tick_ms must be between 5 and 1000, got %d", *c.TickMs)
		}
	}

	if c.ConsoleBaud != nil {
		if *c.ConsoleBaud <= 0 {
			return fmt.Errorf("console_baud must be positive, got %d", *c.ConsoleBaud)
		}
	}

	return nil
}

// GetLanes returns the lane count or the default.
func (c *Config) GetLanes() int {
	if c.Lanes == nil {
		return race.DefaultLaneCount
	}
	return *c.Lanes
}

// GetTick returns the scoreboard refresh period or the default.
func (c *Config) GetTick() time.Duration {
	if c.TickMs == nil {
		return race.DefaultTickInterval
	}
	return time.Duration(*c.TickMs) * time.Millisecond
}

// GetResultsPath returns the CSV results path or the default.
func (c *Config) GetResultsPath() string {
	if c.ResultsPath == nil || *c.ResultsPath == "" {
		return DefaultResultsPath
	}
	return *c.ResultsPath
}

// GetResultsDBPath returns the sqlite results path, empty when the run
// writes CSV.
func (c *Config) GetResultsDBPath() string {
	if c.ResultsDBPath == nil {
		return ""
	}
	return *c.ResultsDBPath
}

// GetConsolePort returns the console device path or the default.
func (c *Config) GetConsolePort() string {
	if c.ConsolePort == nil || *c.ConsolePort == "" {
		return DefaultConsolePort
	}
	return *c.ConsolePort
}

// GetConsoleBaud returns the console baud rate or the default.
func (c *Config) GetConsoleBaud() int {
	if c.ConsoleBaud == nil {
		return serialmux.DefaultBaudRate
	}
	return *c.ConsoleBaud
}

// GetListenUDP returns the UDP bridge address, empty when disabled.
func (c *Config) GetListenUDP() string {
	if c.ListenUDP == nil {
		return ""
	}
	return *c.ListenUDP
}

// GetListenAddr returns the HTTP listen address or the default.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return DefaultListenAddr
	}
	return *c.ListenAddr
}

// GetLogUnrecognized reports whether unrecognized console lines should
// be logged.
func (c *Config) GetLogUnrecognized() bool {
	if c.LogUnrecognized == nil {
		return false
	}
	return *c.LogUnrecognized
}
