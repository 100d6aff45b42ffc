package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/battesty/battesty/internal/collector"
	"github.com/battesty/battesty/internal/engine"
)

// battesty-replay feeds a recorded JSONL sample stream through the
// estimation engine and prints the estimate at each step. Useful for
// debugging estimator behavior against captured telemetry without waiting
// for a real battery to drain.
func main() {
	input := flag.String("input", "", "path to JSONL sample recording (- for stdin)")
	minConfidence := flag.Float64("min-confidence", engine.DefaultMinConfidence, "confidence floor for numeric estimates")
	quiet := flag.Bool("quiet", false, "only print the final summary")
	flag.Parse()

	if *input == "" {
		log.Fatal("battesty-replay: -input is required")
	}

	var r io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			log.Fatalf("open input: %v", err)
		}
		defer f.Close()
		r = f
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	source := collector.NewReplaySource(r, logger)
	eng := engine.New(engine.Options{
		NextSessionID: 1,
		MinConfidence: *minConfidence,
		Logger:        logger,
	})

	var total, rejected int
	for {
		sample, err := source.Collect()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("read input: %v", err)
		}
		total++

		est, err := eng.Observe(*sample)
		if err != nil {
			rejected++
			if !*quiet {
				fmt.Printf("%s  rejected: %v\n", sample.Timestamp.Format("2006-01-02 15:04:05"), err)
			}
			continue
		}
		if !*quiet {
			fmt.Printf("%s  %5.1f%%  %s  (kind=%s confidence=%.2f)\n",
				sample.Timestamp.Format("2006-01-02 15:04:05"),
				sample.ChargePercent,
				est.String(),
				est.Kind,
				est.Confidence)
		}
	}

	if err := eng.Close(); err != nil {
		log.Fatalf("close engine: %v", err)
	}

	profile := eng.CapacityProfile()
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Samples:         %d (%d rejected)\n", total, rejected)
	fmt.Printf("  Rate confidence: %.2f\n", eng.RateConfidence())
	fmt.Printf("  Measured full:   %.0f mWh\n", profile.MeasuredFullMWH)
	fmt.Printf("  Design:          %.0f mWh\n", profile.DesignMWH)
	fmt.Printf("  Cycle count:     %.2f\n", profile.CycleCount)
	fmt.Printf("  Degradation:     %.1f%%\n", profile.DegradationPercent*100)
	fmt.Printf("  Final estimate:  %s\n", eng.LastEstimate().String())
}
