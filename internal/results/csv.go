// Package results writes finished races out as the day's results
// artifact. The CSV sink is the default; the sqlite store in internal/db
// offers the same interface when a queryable artifact is wanted.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Sylteon/uzlarska-regata/internal/race"
)

// csvHeader is written once at the top of every results file.
var csvHeader = []string{"race", "started_at", "lane", "time", "marker"}

// CSVSink appends one row per lane for every finished race. Safe for use
// from a single writer; the engine calls it from its consumer goroutine,
// Close may come from another, hence the lock.
type CSVSink struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink wraps w and writes the header row.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	sink := &CSVSink{w: csv.NewWriter(w)}
	if err := sink.w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write results header: %w", err)
	}
	sink.w.Flush()
	if err := sink.w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush results header: %w", err)
	}
	return sink, nil
}

// NewCSVFileSink creates (truncating) the results file at path. Each
// process run produces exactly one artifact.
func NewCSVFileSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create results file %s: %w", path, err)
	}
	sink, err := NewCSVSink(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	sink.closer = f
	return sink, nil
}

// WriteRace appends the race's lanes, in lane order, and flushes so a
// power cut costs at most the race being written.
func (s *CSVSink) WriteRace(snap race.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	startedAt := snap.StartedAt.Format(time.RFC3339)
	for _, lane := range snap.Lanes {
		row := []string{
			snap.RaceID,
			startedAt,
			fmt.Sprintf("%d", lane.Lane),
			lane.Display,
			lane.Marker,
		}
		if err := s.w.Write(row); err != nil {
			return fmt.Errorf("failed to write lane %d of race %s: %w", lane.Lane, snap.RaceID, err)
		}
	}

	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("failed to flush race %s: %w", snap.RaceID, err)
	}
	return nil
}

// Close flushes pending rows and closes the underlying file, if the sink
// owns one.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
