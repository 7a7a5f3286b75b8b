package util

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Traffic sampling
// ──────────────────────────────────────────────────────────────────────────────

// TrafficSampler returns cumulative media bytes sent and received by one call.
type TrafficSampler func() (sent, recv uint64)

// StatsInterval is how often StartStatsReporter samples.
const StatsInterval = 10 * time.Second

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs the call's media rate
// every StatsInterval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, sample TrafficSampler) {
	go func() {
		ticker := time.NewTicker(StatsInterval)
		defer ticker.Stop()

		secs := StatsInterval.Seconds()

		var prevSent, prevRecv uint64
		for {
			select {
			case <-ticker.C:
				sent, recv := sample()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs

				if inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS))
				}

				prevSent = sent
				prevRecv = recv

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current rates for display in the logger.
func formatStats(inS, outS float64) string {
	return fmt.Sprintf("Media in: %s/s | out: %s/s", formatBytes(inS), formatBytes(outS))
}
