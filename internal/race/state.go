package race

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLaneCount matches the six-lane regatta rig.
	DefaultLaneCount = 6
	// MaxLaneCount is bounded by the single-digit lane selector on the wire.
	MaxLaneCount = 9
)

// DisplayDisqualified is the scoreboard cell shown for a disqualified lane.
const DisplayDisqualified = "D"

// Marker is a judge's ruling attached to a lane for the current race.
type Marker int

const (
	MarkerNone Marker = iota
	MarkerDisqualified
	MarkerFinalized
)

// String returns the marker name used in snapshots, result rows and the
// races table; MarkerNone is the empty string.
func (m Marker) String() string {
	switch m {
	case MarkerDisqualified:
		return "disqualified"
	case MarkerFinalized:
		return "finalized"
	default:
		return ""
	}
}

// LaneState is the live timing state of one lane. StoppedEpoch is only
// meaningful while Stopped is true and records the epoch whose stop froze
// the lane.
type LaneState struct {
	ElapsedMs    int64
	Stopped      bool
	StoppedEpoch uint64
	Marker       Marker
}

// State is the scoreboard state for the whole rig. It is owned by exactly
// one goroutine (the engine's Run loop); nothing here locks.
type State struct {
	Lanes   []LaneState
	Epoch   uint64
	Running bool
	RaceID  string
	// StartedAt carries the monotonic reading taken at race start; elapsed
	// time is always derived from it, never from wall-clock arithmetic.
	StartedAt time.Time
}

// NewState returns an idle board with the given number of lanes. The lane
// count is fixed for the process lifetime.
func NewState(lanes int) *State {
	if lanes <= 0 {
		lanes = DefaultLaneCount
	}
	if lanes > MaxLaneCount {
		lanes = MaxLaneCount
	}
	return &State{Lanes: make([]LaneState, lanes)}
}

// lane returns the addressed lane, or nil when the index is out of range.
// Out-of-range selectors (including the -1 a wire "0" decodes to) are
// dropped silently by callers.
func (s *State) lane(i int) *LaneState {
	if i < 0 || i >= len(s.Lanes) {
		return nil
	}
	return &s.Lanes[i]
}

// boardDirty reports whether the current race has anything worth recording:
// at least one lane with a non-zero time or a marker.
func (s *State) boardDirty() bool {
	for _, l := range s.Lanes {
		if l.ElapsedMs != 0 || l.Marker != MarkerNone {
			return true
		}
	}
	return false
}

// Apply applies one decoded event to the board. now must come from the
// engine's clock so that StartedAt keeps its monotonic reading.
//
// When ev starts a new race over a dirty board, Apply returns the final
// snapshot of the outgoing race for the caller to hand to the result sink;
// otherwise it returns nil.
//
// Every event except StartRace is ignored while the board has never been
// started, and dropped as stale when its CapturedEpoch does not match the
// live epoch.
func (s *State) Apply(ev Event, now time.Time) *Snapshot {
	if ev.Kind == EventStartRace {
		var outgoing *Snapshot
		if s.boardDirty() {
			snap := s.TakeSnapshot(now)
			outgoing = &snap
		}
		s.Epoch++
		s.Running = true
		s.RaceID = uuid.NewString()
		s.StartedAt = now
		for i := range s.Lanes {
			s.Lanes[i] = LaneState{}
		}
		return outgoing
	}

	if !s.Running {
		return nil
	}
	if ev.CapturedEpoch != s.Epoch {
		// The event was captured before a restart superseded its race.
		return nil
	}

	switch ev.Kind {
	case EventTime:
		if ev.HasLane {
			// An explicit per-lane time always lands, stopped or not: the
			// stopped flag gates ticking, not corrections from the console.
			if l := s.lane(ev.Lane); l != nil {
				l.Stopped = true
				l.StoppedEpoch = ev.CapturedEpoch
				l.ElapsedMs = ev.ValueMs
			}
			return nil
		}
		// Broadcast: stop-and-set every lane still running. Lanes already
		// stopped keep their own times whatever the arrival order.
		for i := range s.Lanes {
			if !s.Lanes[i].Stopped {
				s.Lanes[i].Stopped = true
				s.Lanes[i].StoppedEpoch = ev.CapturedEpoch
				s.Lanes[i].ElapsedMs = ev.ValueMs
			}
		}

	case EventStop:
		// A lane-less Stop addresses nothing and does nothing.
		if l := s.lane(ev.Lane); ev.HasLane && l != nil {
			l.Stopped = true
			l.StoppedEpoch = ev.CapturedEpoch
			// ElapsedMs keeps the last ticked or explicitly set value.
		}

	case EventDisqualify:
		if l := s.lane(ev.Lane); ev.HasLane && l != nil {
			l.Marker = MarkerDisqualified
		}

	case EventFinalize:
		// Last write wins between markers; a Finalize after a Disqualify
		// overwrites it, and vice versa.
		if l := s.lane(ev.Lane); ev.HasLane && l != nil {
			l.Marker = MarkerFinalized
		}
	}
	return nil
}

// Tick refreshes the elapsed time of every lane that has not stopped.
// Ticks are meaningless on a board that was never started.
func (s *State) Tick(now time.Time) {
	if !s.Running {
		return
	}
	elapsed := now.Sub(s.StartedAt).Milliseconds()
	for i := range s.Lanes {
		if !s.Lanes[i].Stopped {
			s.Lanes[i].ElapsedMs = elapsed
		}
	}
}

// FormatElapsed renders elapsed milliseconds the way the scoreboard shows
// them: minutes, seconds and centiseconds, each two digits. Minutes widen
// past two digits rather than wrapping.
func FormatElapsed(ms int64) string {
	minutes := ms / 60000
	seconds := (ms / 1000) % 60
	centis := (ms % 1000) / 10
	return fmt.Sprintf("%02d:%02d.%02d", minutes, seconds, centis)
}

// LaneSnapshot is the per-lane view handed to observers and result sinks.
// Lane numbers are 1-based here, matching the wire protocol and the
// printed heat sheets.
type LaneSnapshot struct {
	Lane      int    `json:"lane"`
	Display   string `json:"display"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Stopped   bool   `json:"stopped"`
	Marker    string `json:"marker,omitempty"`
}

// Snapshot is an immutable copy of the board. Observers and sinks only
// ever see snapshots, never the live State.
type Snapshot struct {
	RaceID    string         `json:"race_id"`
	Epoch     uint64         `json:"epoch"`
	Running   bool           `json:"running"`
	StartedAt time.Time      `json:"started_at"`
	TakenAt   time.Time      `json:"taken_at"`
	Lanes     []LaneSnapshot `json:"lanes"`
}

// TakeSnapshot renders the current board. A disqualified lane displays
// DisplayDisqualified; every other lane displays its formatted time. The
// finalized marker travels alongside the time rather than replacing it.
func (s *State) TakeSnapshot(now time.Time) Snapshot {
	snap := Snapshot{
		RaceID:    s.RaceID,
		Epoch:     s.Epoch,
		Running:   s.Running,
		StartedAt: s.StartedAt,
		TakenAt:   now,
		Lanes:     make([]LaneSnapshot, len(s.Lanes)),
	}
	for i, l := range s.Lanes {
		ls := LaneSnapshot{
			Lane:      i + 1,
			ElapsedMs: l.ElapsedMs,
			Stopped:   l.Stopped,
			Marker:    l.Marker.String(),
		}
		if l.Marker == MarkerDisqualified {
			ls.Display = DisplayDisqualified
		} else {
			ls.Display = FormatElapsed(l.ElapsedMs)
		}
		snap.Lanes[i] = ls
	}
	return snap
}
