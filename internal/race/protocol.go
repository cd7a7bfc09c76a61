// Package race holds the timing-console line protocol, the lane state
// machine, and the engine that drives both from a live line feed.
package race

import (
	"strconv"
	"strings"
	"unicode"
)

// EventKind identifies what a decoded console line means.
type EventKind int

const (
	// EventUnrecognized marks lines the console protocol does not cover:
	// power-on banners, echoed commands, line noise. Counted, never applied.
	EventUnrecognized EventKind = iota
	// EventStartRace resets the board and opens a new race.
	EventStartRace
	// EventTime carries an explicit elapsed time for one lane or, with no
	// lane selector, for every lane still running.
	EventTime
	// EventStop freezes a lane at its current elapsed time.
	EventStop
	// EventDisqualify flags a lane as disqualified for the current race.
	EventDisqualify
	// EventFinalize flags a lane's time as the official result.
	EventFinalize
)

// String returns a short name for the event kind, used in logs.
func (k EventKind) String() string {
	switch k {
	case EventStartRace:
		return "start_race"
	case EventTime:
		return "time"
	case EventStop:
		return "stop"
	case EventDisqualify:
		return "disqualify"
	case EventFinalize:
		return "finalize"
	default:
		return "unrecognized"
	}
}

// Event is one decoded line from the timing console.
type Event struct {
	Kind EventKind

	// Lane is the 0-based lane index when HasLane is true. The wire value
	// is a single 1-based digit, so a leading "0" decodes to Lane -1 and
	// is dropped by the state machine as out of range. HasLane false means
	// the event addresses no particular lane (broadcast for Time, no-op
	// for the other lane kinds).
	Lane    int
	HasLane bool

	// ValueMs is the elapsed time payload in milliseconds. Time events only.
	ValueMs int64

	// CapturedEpoch is stamped by the consumer at the moment the event is
	// taken off the feed, not at decode time. Apply compares it against
	// the live epoch to drop events that belong to a superseded race.
	CapturedEpoch uint64

	// Raw is the trimmed wire line, kept for the debug tail and logs.
	Raw string
}

// startPhrase anywhere in a line restarts the race, whatever else the
// line says. Console firmware pads it unpredictably ("OK START RACE",
// "restart race now"), so this is a case-insensitive substring match.
const startPhrase = "start race"

// Decode turns one console line into an Event. It is total: every input
// maps to some event, malformed input to EventUnrecognized, never an error.
//
// The line grammar, in match order:
//
//	... start race ...      restart, case-insensitive, anywhere in the line
//	[digit]                 optional single 1-based lane selector prefix
//	TIME                    stop the selected lane (no payload)
//	TIME:m:ss:cc            explicit elapsed time; broadcast without a lane
//	DISQUAL...              disqualify the selected lane
//	FINAL...                finalize the selected lane
//
// Keyword matching is case-insensitive prefix matching on the remainder
// after the lane digit; the TIME payload is everything after the first
// ":" in the original casing.
func Decode(line string) Event {
	trimmed := strings.TrimSpace(line)
	ev := Event{Kind: EventUnrecognized, Lane: -1, Raw: trimmed}

	if strings.Contains(strings.ToLower(trimmed), startPhrase) {
		ev.Kind = EventStartRace
		return ev
	}

	rest := trimmed
	if rest != "" && rest[0] >= '0' && rest[0] <= '9' {
		ev.Lane = int(rest[0]-'0') - 1
		ev.HasLane = true
		rest = strings.TrimLeftFunc(rest[1:], unicode.IsSpace)
	}

	keyword := strings.ToUpper(rest)
	switch {
	case strings.HasPrefix(keyword, "TIME"):
		payload := ""
		if i := strings.IndexByte(rest, ':'); i >= 0 {
			payload = rest[i+1:]
		}
		if payload == "" {
			ev.Kind = EventStop
			return ev
		}
		ms, ok := parseClockPayload(payload)
		if !ok {
			// A broken payload rejects the whole line, lane prefix included.
			return ev
		}
		ev.Kind = EventTime
		ev.ValueMs = ms
	case strings.HasPrefix(keyword, "DISQUAL"):
		ev.Kind = EventDisqualify
	case strings.HasPrefix(keyword, "FINAL"):
		ev.Kind = EventFinalize
	}
	return ev
}

// parseClockPayload parses an m:ss:cc payload into milliseconds. Exactly
// three non-negative integer fields are required and the centisecond
// field must be at most 99. Fields tolerate surrounding spaces; some
// console firmware pads them.
func parseClockPayload(payload string) (int64, bool) {
	fields := strings.Split(payload, ":")
	if len(fields) != 3 {
		return 0, false
	}
	var parts [3]int64
	for i, f := range fields {
		n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		parts[i] = n
	}
	minutes, seconds, centis := parts[0], parts[1], parts[2]
	if centis > 99 {
		return 0, false
	}
	return (minutes*60+seconds)*1000 + centis*10, true
}
