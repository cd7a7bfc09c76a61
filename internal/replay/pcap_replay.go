package replay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Sylteon/uzlarska-regata/internal/monitoring"
	"github.com/Sylteon/uzlarska-regata/internal/timeutil"
)

// ReplayPackets emits every packet the reader yields, spaced by the
// capture timestamps scaled by speed (1.0 = original pace, 2.0 = twice
// as fast). speed <= 0 means original pace. Cancellation is checked
// between packets; a wait in progress runs out.
func ReplayPackets(ctx context.Context, clock timeutil.Clock, reader PCAPReader, speed float64, emit func(PCAPPacket) error) error {
	if speed <= 0 {
		speed = 1.0
	}

	packetCount := 0
	startTime := clock.Now()
	var lastPacketTime time.Time

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("replay: stopping after %d packets: %v", packetCount, err)
			return err
		}

		pkt, err := reader.NextPacket()
		if err == io.EOF {
			monitoring.Logf("replay: capture complete, %d packets in %v (speed %.1fx)",
				packetCount, clock.Since(startTime), speed)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet %d: %w", packetCount+1, err)
		}

		// Pace off the gap between capture timestamps. The first packet
		// goes out immediately; out-of-order timestamps are not waited on.
		if !lastPacketTime.IsZero() {
			delay := pkt.Timestamp.Sub(lastPacketTime)
			scaled := time.Duration(float64(delay) / speed)
			if scaled > 0 {
				clock.Sleep(scaled)
			}
		}
		lastPacketTime = pkt.Timestamp

		if err := ctx.Err(); err != nil {
			monitoring.Logf("replay: stopping after %d packets: %v", packetCount, err)
			return err
		}
		if err := emit(*pkt); err != nil {
			return fmt.Errorf("failed to emit packet %d: %w", packetCount+1, err)
		}
		packetCount++

		if packetCount%100 == 0 {
			monitoring.Logf("replay: %d packets in %v (speed %.1fx)",
				packetCount, clock.Since(startTime), speed)
		}
	}
}
