package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/MeterFlow/pkg/meterflow"
)

// Prints every archived reading instead of writing it to the store. Requires
// archive.enabled in the config.
func main() {
	flow, err := meterflow.Conf("../../config/meterflow.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	flow.Config().Archive.Enabled = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(batch []meterflow.Record) error {
		for _, r := range batch {
			fmt.Printf("%s kwh=%.2f arus=%.2f tegangan=%.1f daya=%.0f\n",
				r.Timestamp.Format(time.RFC3339),
				r.Energy, r.Current, r.Voltage, r.Power,
			)
		}
		return nil
	}

	if err := flow.Run(ctx, meterflow.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
