package db

import (
	"database/sql"
	"fmt"
)

// SerialConfig represents a saved console port configuration
type SerialConfig struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// GetSerialConfigs returns all console port configurations
func (db *DB) GetSerialConfigs() ([]SerialConfig, error) {
	query := `SELECT id, name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, created_at, updated_at
	          FROM serial_configs
	          ORDER BY created_at ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query serial configs: %w", err)
	}
	defer rows.Close()

	var configs []SerialConfig
	for rows.Next() {
		var c SerialConfig
		var enabled int
		err := rows.Scan(&c.ID, &c.Name, &c.PortPath, &c.BaudRate, &c.DataBits, &c.StopBits,
			&c.Parity, &enabled, &c.Description, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan serial config: %w", err)
		}
		c.Enabled = enabled == 1
		configs = append(configs, c)
	}

	return configs, nil
}

// GetSerialConfig returns a single console port configuration by ID
func (db *DB) GetSerialConfig(id int) (*SerialConfig, error) {
	query := `SELECT id, name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, created_at, updated_at
	          FROM serial_configs
	          WHERE id = ?`

	var c SerialConfig
	var enabled int
	err := db.QueryRow(query, id).Scan(&c.ID, &c.Name, &c.PortPath, &c.BaudRate, &c.DataBits,
		&c.StopBits, &c.Parity, &enabled, &c.Description, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get serial config: %w", err)
	}

	c.Enabled = enabled == 1
	return &c, nil
}

// GetEnabledSerialConfigs returns all enabled console port configurations
func (db *DB) GetEnabledSerialConfigs() ([]SerialConfig, error) {
	query := `SELECT id, name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, created_at, updated_at
	          FROM serial_configs
	          WHERE enabled = 1
	          ORDER BY created_at ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled serial configs: %w", err)
	}
	defer rows.Close()

	var configs []SerialConfig
	for rows.Next() {
		var c SerialConfig
		var enabled int
		err := rows.Scan(&c.ID, &c.Name, &c.PortPath, &c.BaudRate, &c.DataBits, &c.StopBits,
			&c.Parity, &enabled, &c.Description, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan serial config: %w", err)
		}
		c.Enabled = enabled == 1
		configs = append(configs, c)
	}

	return configs, nil
}

// CreateSerialConfig creates a new console port configuration
func (db *DB) CreateSerialConfig(c *SerialConfig) (int64, error) {
	query := `INSERT INTO serial_configs (name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	enabled := 0
	if c.Enabled {
		enabled = 1
	}

	result, err := db.Exec(query, c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits,
		c.Parity, enabled, c.Description)
	if err != nil {
		return 0, fmt.Errorf("failed to create serial config: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// UpdateSerialConfig updates an existing console port configuration
func (db *DB) UpdateSerialConfig(c *SerialConfig) error {
	query := `UPDATE serial_configs
	          SET name = ?, port_path = ?, baud_rate = ?, data_bits = ?, stop_bits = ?,
	              parity = ?, enabled = ?, description = ?, updated_at = strftime('%s', 'now')
	          WHERE id = ?`

	enabled := 0
	if c.Enabled {
		enabled = 1
	}

	result, err := db.Exec(query, c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits,
		c.Parity, enabled, c.Description, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update serial config: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("serial config with ID %d not found", c.ID)
	}

	return nil
}

// DeleteSerialConfig deletes a console port configuration
func (db *DB) DeleteSerialConfig(id int) error {
	query := `DELETE FROM serial_configs WHERE id = ?`

	result, err := db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete serial config: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("serial config with ID %d not found", id)
	}

	return nil
}
