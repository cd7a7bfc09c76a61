// Package replay feeds recorded console traffic back at the daemon so
// scoreboard and decoder work does not need the rig. Two sources are
// supported: plain session files of console lines with optional @ms
// delay prefixes, and packet captures of the UDP bridge (pcap build tag).
package replay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sylteon/uzlarska-regata/internal/timeutil"
)

// Line is one entry of a recorded session. Delay is only meaningful
// when HasDelay is set; unprefixed lines are paced by the player's
// default interval.
type Line struct {
	Text     string
	Delay    time.Duration
	HasDelay bool
}

// ParseSession reads a session file: one console line per line, blank
// lines and #-comments skipped. A line may carry an `@ms ` prefix
// giving the wait before it is emitted, e.g. `@1500 1 TIME:0:18:42`.
func ParseSession(r io.Reader) ([]Line, error) {
	var session []Line
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		entry := Line{Text: text}
		if strings.HasPrefix(text, "@") {
			token, rest, _ := strings.Cut(text, " ")
			ms, err := strconv.Atoi(token[1:])
			if err != nil || ms < 0 {
				return nil, fmt.Errorf("session line %d: bad delay prefix %q", lineNo, token)
			}
			rest = strings.TrimSpace(rest)
			if rest == "" {
				return nil, fmt.Errorf("session line %d: delay prefix without a console line", lineNo)
			}
			entry = Line{Text: rest, Delay: time.Duration(ms) * time.Millisecond, HasDelay: true}
		}
		session = append(session, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return session, nil
}

// ParseSessionFile reads a session file from disk.
func ParseSessionFile(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session file %s: %w", path, err)
	}
	defer f.Close()
	return ParseSession(f)
}

// Play emits the session in order at recorded pace: each line waits its
// own delay, or defaultDelay when it has none, before emit is called.
// Cancellation is checked between lines; a sleep in progress runs out.
func Play(ctx context.Context, clock timeutil.Clock, session []Line, defaultDelay time.Duration, emit func(string) error) error {
	for _, l := range session {
		if err := ctx.Err(); err != nil {
			return err
		}

		delay := defaultDelay
		if l.HasDelay {
			delay = l.Delay
		}
		if delay > 0 {
			clock.Sleep(delay)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(l.Text); err != nil {
			return fmt.Errorf("failed to emit %q: %w", l.Text, err)
		}
	}
	return nil
}
