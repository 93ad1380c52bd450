package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/MeterFlow"
)

func main() {
	flow, err := meterflow.Conf("../../config/meterflow.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	flow.Config().Archive.Enabled = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, batches, closeBatches := meterflow.NewChannelSink("fanout", 32)
	defer closeBatches()

	go fanoutWorker("archive", batches)

	rt, err := flow.StreamOUT(ctx, meterflow.StreamOutSink(sink))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}
	rt.OnStateChange(func(s meterflow.State) {
		fmt.Printf("[state] %s\n", s)
	})
	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, batches <-chan []meterflow.Record) {
	for batch := range batches {
		fmt.Printf("[%s] %d readings, newest %s\n", name, len(batch), batch[len(batch)-1].Timestamp.Format(time.RFC3339))
	}
}
