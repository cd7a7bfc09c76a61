package db

import "github.com/Sylteon/uzlarska-regata/internal/race"

// ResultSink adapts the store to the engine's result sink interface so a
// results database can stand in for the CSV file.
type ResultSink struct {
	db *DB
}

func NewResultSink(db *DB) *ResultSink {
	return &ResultSink{db: db}
}

func (s *ResultSink) WriteRace(snap race.Snapshot) error {
	return s.db.RecordRace(snap)
}
