package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"chainalert/internal/config"
	"chainalert/internal/delivery"
	"chainalert/internal/queue"
)

// healthReport is the --health output. Connectivity checks only; no lane is
// drained.
type healthReport struct {
	Engine         string           `json:"engine"`
	Version        string           `json:"version"`
	Status         string           `json:"status"`
	RedisConnected bool             `json:"redis_connected"`
	Error          string           `json:"error,omitempty"`
	Queues         map[string]int64 `json:"queues,omitempty"`
	Config         configEcho       `json:"config"`
	Timestamp      string           `json:"timestamp"`
}

// configEcho surfaces the non-secret pipeline knobs so operators can verify
// the effective configuration from the health probe alone.
type configEcho struct {
	CheckInterval string `json:"check_interval"`
	BatchSize     int    `json:"batch_size"`
	MaxRetries    int    `json:"max_retries"`
	DedupTTL      string `json:"dedup_ttl"`
	DLQThreshold  int    `json:"dlq_threshold"`
}

// buildHealthReport probes store connectivity and assembles the report. It
// never fails: an unreachable store is a report, not a crash.
func buildHealthReport(ctx context.Context, lanes *queue.LaneStore, destinations []string, p config.PipelineConfig) healthReport {
	report := healthReport{
		Engine:  "alert_processor",
		Version: version,
		Config: configEcho{
			CheckInterval: p.CheckInterval.String(),
			BatchSize:     p.BatchSize,
			MaxRetries:    p.MaxRetries,
			DedupTTL:      p.DedupTTL.String(),
			DLQThreshold:  p.DLQThreshold,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := lanes.Ping(ctx); err != nil {
		report.Status = "unhealthy"
		report.RedisConnected = false
		report.Error = err.Error()
	} else {
		report.Status = "healthy"
		report.RedisConnected = true
		report.Queues = laneDepths(ctx, lanes, destinations)
	}

	return report
}

func printHealth(lanes *queue.LaneStore, destinations []string, p config.PipelineConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	printJSON(buildHealthReport(ctx, lanes, destinations, p))
}

// statsReport is the --stats output: in-process counters (zero for a fresh
// process) plus current lane depths.
type statsReport struct {
	delivery.Snapshot
	Version string           `json:"version"`
	Queues  map[string]int64 `json:"queue_sizes,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func buildStatsReport(ctx context.Context, lanes *queue.LaneStore, destinations []string, stats *delivery.Stats) statsReport {
	report := statsReport{
		Snapshot: stats.Snapshot(),
		Version:  version,
	}
	if err := lanes.Ping(ctx); err != nil {
		report.Error = err.Error()
	} else {
		report.Queues = laneDepths(ctx, lanes, destinations)
	}
	return report
}

func printStatsReport(lanes *queue.LaneStore, destinations []string, stats *delivery.Stats) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	printJSON(buildStatsReport(ctx, lanes, destinations, stats))
}

// laneDepths collects the depth of every lane for the given destinations.
// Unreachable lanes report -1.
func laneDepths(ctx context.Context, lanes *queue.LaneStore, destinations []string) map[string]int64 {
	depths := make(map[string]int64, len(destinations)*3)
	for _, dest := range destinations {
		for _, lane := range []string{queue.NormalLane(dest), queue.CriticalLane(dest), queue.DeadLetterLane(dest)} {
			n, err := lanes.Depth(ctx, lane)
			if err != nil {
				n = -1
			}
			depths[lane] = n
		}
	}
	return depths
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render report: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// printFinalStats writes the human-readable shutdown summary block.
func printFinalStats(lanes *queue.LaneStore, destinations []string, stats *delivery.Stats) {
	snap := stats.Snapshot()

	fmt.Println()
	fmt.Println("============================================================")
	fmt.Println("ALERT PROCESSOR FINAL STATISTICS")
	fmt.Println("============================================================")
	fmt.Printf("   Uptime: %.0f seconds\n", snap.UptimeSec)
	fmt.Printf("   Alerts Processed: %d\n", snap.Processed)
	fmt.Printf("   Alerts Delivered: %d\n", snap.Sent)
	fmt.Printf("   Alerts Failed: %d\n", snap.Failed)
	fmt.Printf("   Success Rate: %.1f%%\n", snap.SuccessRate)
	fmt.Printf("   Deduplicated: %d\n", snap.Deduplicated)
	fmt.Printf("   Rate Limited: %d\n", snap.RateLimited)
	fmt.Printf("   Dead Lettered: %d\n", snap.DeadLettered)
	fmt.Printf("   Retries Attempted: %d\n", snap.Retried)
	fmt.Printf("   Processing Rate: %.2f/min\n", snap.PerMinute)
	fmt.Println("============================================================")

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := lanes.Ping(ctx); err == nil {
		fmt.Println("Queue Depths:")
		for lane, n := range laneDepths(ctx, lanes, destinations) {
			fmt.Printf("   %s: %d\n", lane, n)
		}
		fmt.Println("============================================================")
	}
}
