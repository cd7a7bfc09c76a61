// Command replay feeds a recorded console session back at the daemon.
//
// Session files hold one console line per line; blank lines and
// #-comments are skipped, and a line may carry an `@ms` delay prefix:
//
//	START RACE
//	@1500 1 TIME:0:18:42
//	@250 2 DISQUAL
//
// Usage:
//
//	go run ./cmd/tools/replay [flags]
//
// Flags:
//
//	-session   Session file to replay (required)
//	-udp       UDP bridge address to send to (default: stdout)
//	-interval  Pace for lines without a delay prefix (default: 1s)
//	-loop      Loop playback when reaching end (default: false)
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sylteon/uzlarska-regata/internal/replay"
	"github.com/Sylteon/uzlarska-regata/internal/timeutil"
)

func main() {
	sessionPath := flag.String("session", "", "Session file to replay (required)")
	udpAddr := flag.String("udp", "", "UDP bridge address to send to (default: stdout)")
	interval := flag.Duration("interval", time.Second, "Pace for lines without a delay prefix")
	loop := flag.Bool("loop", false, "Loop playback when reaching end")
	flag.Parse()

	if *sessionPath == "" {
		log.Fatal("Error: -session flag is required")
	}

	session, err := replay.ParseSessionFile(*sessionPath)
	if err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}
	if len(session) == 0 {
		log.Fatalf("Session %s holds no console lines", *sessionPath)
	}

	var out io.Writer = os.Stdout
	target := "stdout"
	if *udpAddr != "" {
		conn, err := net.Dial("udp", *udpAddr)
		if err != nil {
			log.Fatalf("Failed to dial %s: %v", *udpAddr, err)
		}
		defer conn.Close()
		out = conn
		target = *udpAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Replaying %d lines from %s to %s", len(session), *sessionPath, target)

	emit := func(line string) error {
		_, err := io.WriteString(out, line+"\n")
		return err
	}

	clock := timeutil.RealClock{}
	passes := 0
	for {
		if err := replay.Play(ctx, clock, session, *interval, emit); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Printf("Replay interrupted after %d full passes", passes)
				return
			}
			log.Fatalf("Replay failed: %v", err)
		}
		passes++
		if !*loop {
			break
		}
		log.Printf("Session complete, looping (pass %d)", passes)
	}

	log.Printf("Session complete")
}
