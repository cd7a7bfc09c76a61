package replay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Sylteon/uzlarska-regata/internal/timeutil"
	"github.com/google/go-cmp/cmp"
)

func TestParseSession(t *testing.T) {
	input := strings.Join([]string{
		"# warmup heat, recorded 2026-06-13",
		"",
		"START RACE",
		"@1500 1 TIME:0:18:42",
		"  @250 2 DISQUAL  ",
		"TIME",
	}, "\n")

	session, err := ParseSession(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseSession: %v", err)
	}

	expected := []Line{
		{Text: "START RACE"},
		{Text: "1 TIME:0:18:42", Delay: 1500 * time.Millisecond, HasDelay: true},
		{Text: "2 DISQUAL", Delay: 250 * time.Millisecond, HasDelay: true},
		{Text: "TIME"},
	}
	if diff := cmp.Diff(expected, session); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSessionEmpty(t *testing.T) {
	session, err := ParseSession(strings.NewReader("# nothing but comments\n\n"))
	if err != nil {
		t.Fatalf("ParseSession: %v", err)
	}
	if len(session) != 0 {
		t.Errorf("expected an empty session, got %d lines", len(session))
	}
}

func TestParseSessionBadDelay(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"non-numeric delay", "@soon START RACE"},
		{"negative delay", "@-5 START RACE"},
		{"delay without line", "@500"},
		{"delay with only spaces", "@500   "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseSession(strings.NewReader(tc.input)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestPlayPacing(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 6, 13, 9, 30, 0, 0, time.UTC))
	session := []Line{
		{Text: "START RACE"},
		{Text: "1 TIME:0:18:42", Delay: 1500 * time.Millisecond, HasDelay: true},
		{Text: "TIME", Delay: 0, HasDelay: true},
		{Text: "FINAL"},
	}

	var emitted []string
	err := Play(context.Background(), clock, session, time.Second, func(line string) error {
		emitted = append(emitted, line)
		return nil
	})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	expected := []string{"START RACE", "1 TIME:0:18:42", "TIME", "FINAL"}
	if diff := cmp.Diff(expected, emitted); diff != "" {
		t.Errorf("emitted lines mismatch (-want +got):\n%s", diff)
	}

	// Unprefixed lines wait the default interval, prefixed lines their
	// own delay, and an explicit @0 does not sleep at all.
	sleeps := clock.Sleeps()
	expectedSleeps := []time.Duration{time.Second, 1500 * time.Millisecond, time.Second}
	if diff := cmp.Diff(expectedSleeps, sleeps); diff != "" {
		t.Errorf("sleep schedule mismatch (-want +got):\n%s", diff)
	}
}

func TestPlayCancelled(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emitted := 0
	err := Play(ctx, clock, []Line{{Text: "START RACE"}}, 0, func(string) error {
		emitted++
		return nil
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if emitted != 0 {
		t.Errorf("expected no lines emitted after cancellation, got %d", emitted)
	}
}

func TestPlayEmitError(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	boom := errors.New("socket gone")

	err := Play(context.Background(), clock, []Line{{Text: "START RACE"}}, 0, func(string) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected the emit error to be wrapped, got %v", err)
	}
}
