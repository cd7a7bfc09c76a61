package db

import (
	"database/sql"
	"fmt"

	"github.com/Sylteon/uzlarska-regata/internal/race"
)

// RaceRecord is a finished race as stored in the races table.
type RaceRecord struct {
	RaceID      string       `json:"race_id"`
	Epoch       uint64       `json:"epoch"`
	StartedAtMs int64        `json:"started_at_ms"`
	RecordedAt  int64        `json:"recorded_at"`
	LaneCount   int          `json:"lane_count"`
	Lanes       []LaneRecord `json:"lanes,omitempty"`
}

// LaneRecord is one lane's result within a race.
type LaneRecord struct {
	Lane      int    `json:"lane"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Display   string `json:"display"`
	Marker    string `json:"marker"`
}

// RecordRace stores a finished race and all of its lanes in one
// transaction. A race that is half-written is worse than no race at all.
func (db *DB) RecordRace(snap race.Snapshot) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin race transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO races (race_id, epoch, started_at, lane_count) VALUES (?, ?, ?, ?)`,
		snap.RaceID, snap.Epoch, snap.StartedAt.UnixMilli(), len(snap.Lanes),
	)
	if err != nil {
		return fmt.Errorf("failed to insert race %s: %w", snap.RaceID, err)
	}

	for _, lane := range snap.Lanes {
		_, err = tx.Exec(
			`INSERT INTO race_lanes (race_id, lane, elapsed_ms, display, marker) VALUES (?, ?, ?, ?, ?)`,
			snap.RaceID, lane.Lane, lane.ElapsedMs, lane.Display, lane.Marker,
		)
		if err != nil {
			return fmt.Errorf("failed to insert lane %d of race %s: %w", lane.Lane, snap.RaceID, err)
		}
	}

	return tx.Commit()
}

// ListRaces returns the most recent races, newest first, without lane
// detail. limit <= 0 means the default of 100.
func (db *DB) ListRaces(limit int) ([]RaceRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(
		`SELECT race_id, epoch, started_at, recorded_at, lane_count
		 FROM races ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	defer rows.Close()

	var races []RaceRecord
	for rows.Next() {
		var r RaceRecord
		if err := rows.Scan(&r.RaceID, &r.Epoch, &r.StartedAtMs, &r.RecordedAt, &r.LaneCount); err != nil {
			return nil, fmt.Errorf("failed to scan race: %w", err)
		}
		races = append(races, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return races, nil
}

// GetRace returns a single race with its lanes, or nil if no race with
// that ID exists.
func (db *DB) GetRace(raceID string) (*RaceRecord, error) {
	var r RaceRecord
	err := db.QueryRow(
		`SELECT race_id, epoch, started_at, recorded_at, lane_count
		 FROM races WHERE race_id = ?`, raceID).
		Scan(&r.RaceID, &r.Epoch, &r.StartedAtMs, &r.RecordedAt, &r.LaneCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get race %s: %w", raceID, err)
	}

	rows, err := db.Query(
		`SELECT lane, elapsed_ms, display, marker
		 FROM race_lanes WHERE race_id = ? ORDER BY lane ASC`, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lanes for race %s: %w", raceID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var lane LaneRecord
		if err := rows.Scan(&lane.Lane, &lane.ElapsedMs, &lane.Display, &lane.Marker); err != nil {
			return nil, fmt.Errorf("failed to scan lane: %w", err)
		}
		r.Lanes = append(r.Lanes, lane)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &r, nil
}
