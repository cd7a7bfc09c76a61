package race

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Sylteon/uzlarska-regata/internal/monitoring"
	"github.com/Sylteon/uzlarska-regata/internal/timeutil"
)

// DefaultTickInterval is the scoreboard refresh period. The original rig
// ticked every 10ms; anything in the tens of milliseconds reads smoothly.
const DefaultTickInterval = 50 * time.Millisecond

// ErrEngineStopped is returned by Inject once the engine's Run loop has
// exited.
var ErrEngineStopped = errors.New("race engine stopped")

// ResultSink receives the final snapshot of each completed race: once when
// a new race replaces it, and once for the last race at shutdown. Sink
// failures are logged, never fatal.
type ResultSink interface {
	WriteRace(Snapshot) error
}

// Stats are cumulative ingest counters, exposed on the debug surface.
type Stats struct {
	Lines        uint64 `json:"lines"`
	Unrecognized uint64 `json:"unrecognized"`
	Races        uint64 `json:"races"`
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	// Lanes is the number of lanes on the rig (default DefaultLaneCount,
	// capped at MaxLaneCount).
	Lanes int
	// Tick is the scoreboard refresh period (default DefaultTickInterval).
	Tick time.Duration
	// Clock supplies time; tests inject a timeutil.MockClock.
	Clock timeutil.Clock
	// Sink receives completed races. May be nil (results are discarded).
	Sink ResultSink
	// LogUnrecognized echoes unparseable console lines to the log. Off by
	// default: line noise is data, not an error.
	LogUnrecognized bool
}

// Engine consumes console lines and drives the race state. The Run
// goroutine is the only goroutine that ever touches the State; every other
// party talks to it through channels (the line feed, Inject) or reads
// published snapshots.
type Engine struct {
	state           *State
	laneCount       int
	clock           timeutil.Clock
	tick            time.Duration
	sink            ResultSink
	logUnrecognized bool

	inject chan string
	done   chan struct{}

	observerMu sync.Mutex
	observers  map[string]chan Snapshot

	lastMu sync.RWMutex
	last   Snapshot

	nLines        atomic.Uint64
	nUnrecognized atomic.Uint64
	nRaces        atomic.Uint64
}

// NewEngine builds an Engine from opts. The engine is inert until Run is
// called.
func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTickInterval
	}
	state := NewState(opts.Lanes)
	e := &Engine{
		state:           state,
		laneCount:       len(state.Lanes),
		clock:           opts.Clock,
		tick:            opts.Tick,
		sink:            opts.Sink,
		logUnrecognized: opts.LogUnrecognized,
		inject:          make(chan string, 16),
		done:            make(chan struct{}),
		observers:       make(map[string]chan Snapshot),
	}
	e.last = state.TakeSnapshot(e.clock.Now())
	return e
}

// LaneCount returns the number of lanes on the rig.
func (e *Engine) LaneCount() int { return e.laneCount }

// TickInterval returns the scoreboard refresh period.
func (e *Engine) TickInterval() time.Duration { return e.tick }

// Stats returns the cumulative ingest counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Lines:        e.nLines.Load(),
		Unrecognized: e.nUnrecognized.Load(),
		Races:        e.nRaces.Load(),
	}
}

// Inject feeds one line into the engine as if the console had sent it.
// Operator actions (the HTTP start endpoint, replayed fixtures) go through
// here so that all state mutation stays on the Run goroutine.
func (e *Engine) Inject(line string) error {
	// Checked separately: the buffered send below stays ready after Run
	// exits, and a two-way select would then flip a coin.
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.inject <- line:
		return nil
	case <-e.done:
		return ErrEngineStopped
	}
}

// Subscribe registers an observer for board snapshots. The channel holds
// only the latest frame: slow readers miss intermediate frames but always
// see the newest state. The returned id is used to Unsubscribe.
func (e *Engine) Subscribe() (string, chan Snapshot) {
	id := uuid.NewString()
	ch := make(chan Snapshot, 1)
	e.observerMu.Lock()
	defer e.observerMu.Unlock()
	e.observers[id] = ch
	return id, ch
}

// Unsubscribe removes an observer and closes its channel.
func (e *Engine) Unsubscribe(id string) {
	e.observerMu.Lock()
	defer e.observerMu.Unlock()
	if ch, ok := e.observers[id]; ok {
		close(ch)
		delete(e.observers, id)
	}
}

// Snapshot returns the most recently published board snapshot.
func (e *Engine) Snapshot() Snapshot {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	return e.last
}

// Run consumes the given line feed until ctx is cancelled. If the feed
// closes (console unplugged, read error upstream) the engine keeps
// ticking and serving snapshots; only the input goes quiet. On the way
// out the in-progress race, if dirty, is flushed to the sink.
func (e *Engine) Run(ctx context.Context, lines <-chan string) error {
	defer close(e.done)

	ticker := e.clock.NewTicker(e.tick)
	defer ticker.Stop()

	// Publish the idle board so the scoreboard has a frame before the
	// first console line arrives.
	e.publish()

	for {
		select {
		case <-ctx.Done():
			e.flushFinal()
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				monitoring.Logf("race: console feed closed; timing continues without input")
				lines = nil
				continue
			}
			e.handleLine(line)

		case line := <-e.inject:
			e.handleLine(line)

		case now := <-ticker.C():
			if e.state.Running {
				e.state.Tick(now)
				e.publish()
			}
		}
	}
}

// handleLine decodes and applies one line. The epoch stamp happens here,
// at dequeue: a StartRace drained earlier in the same burst is already
// reflected in the epoch this event captures.
func (e *Engine) handleLine(line string) {
	e.nLines.Add(1)

	ev := Decode(line)
	ev.CapturedEpoch = e.state.Epoch

	if ev.Kind == EventUnrecognized {
		e.nUnrecognized.Add(1)
		if e.logUnrecognized {
			monitoring.Logf("race: unrecognized console line %q", ev.Raw)
		}
		return
	}
	if ev.Kind == EventStartRace {
		e.nRaces.Add(1)
	}

	if outgoing := e.state.Apply(ev, e.clock.Now()); outgoing != nil {
		e.writeResult(*outgoing)
	}
	e.publish()
}

// flushFinal hands the in-progress race to the sink so the last heat of a
// session is not lost at shutdown.
func (e *Engine) flushFinal() {
	if e.state.boardDirty() {
		e.writeResult(e.state.TakeSnapshot(e.clock.Now()))
	}
}

func (e *Engine) writeResult(snap Snapshot) {
	if e.sink == nil {
		return
	}
	if err := e.sink.WriteRace(snap); err != nil {
		monitoring.Logf("race: failed to record race %s: %v", snap.RaceID, err)
	}
}

// publish stores the latest snapshot and fans it out to observers.
func (e *Engine) publish() {
	snap := e.state.TakeSnapshot(e.clock.Now())

	e.lastMu.Lock()
	e.last = snap
	e.lastMu.Unlock()

	e.observerMu.Lock()
	defer e.observerMu.Unlock()
	for _, ch := range e.observers {
		// Latest-wins mailbox: drop the stale frame if the observer has
		// not collected it yet.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
