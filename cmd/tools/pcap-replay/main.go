// Command pcap-replay replays captured UDP bridge traffic at original
// timing. It is how a race day recorded with tcpdump at the finish
// tower gets re-run against a development daemon.
//
// Reading captures needs libpcap; build with -tags=pcap. Without the
// tag the binary compiles but refuses to run.
//
// Usage:
//
//	go run -tags=pcap ./cmd/tools/pcap-replay [flags]
//
// Flags:
//
//	-pcap    Capture file to replay (required)
//	-port    UDP port the bridge traffic was captured on (0 = any UDP)
//	-target  UDP address to send payloads to (default: stdout)
//	-speed   Replay speed multiplier (default: 1.0 = original pace)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sylteon/uzlarska-regata/internal/replay"
	"github.com/Sylteon/uzlarska-regata/internal/timeutil"
)

func main() {
	pcapFile := flag.String("pcap", "", "Capture file to replay (required)")
	port := flag.Int("port", 0, "UDP port the bridge traffic was captured on (0 = any UDP)")
	target := flag.String("target", "", "UDP address to send payloads to (default: stdout)")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (1.0 = original pace)")
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("Error: -pcap flag is required")
	}

	reader, err := replay.NewPCAPFileReader()
	if err != nil {
		log.Fatalf("Cannot replay captures: %v", err)
	}
	if err := reader.Open(*pcapFile); err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}
	defer reader.Close()

	filter := "udp"
	if *port != 0 {
		filter = fmt.Sprintf("udp port %d", *port)
	}
	if err := reader.SetBPFFilter(filter); err != nil {
		log.Fatalf("Failed to set filter: %v", err)
	}

	var out io.Writer = os.Stdout
	dest := "stdout"
	if *target != "" {
		conn, err := net.Dial("udp", *target)
		if err != nil {
			log.Fatalf("Failed to dial %s: %v", *target, err)
		}
		defer conn.Close()
		out = conn
		dest = *target
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Replaying %s to %s (filter %q, speed %.1fx)", *pcapFile, dest, filter, *speed)

	emit := func(pkt replay.PCAPPacket) error {
		_, err := out.Write(pkt.Payload)
		return err
	}
	if err := replay.ReplayPackets(ctx, timeutil.RealClock{}, reader, *speed, emit); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("Replay interrupted")
			return
		}
		log.Fatalf("Replay failed: %v", err)
	}
}
