package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"trafficmonitor/internal/app"
	"trafficmonitor/internal/broker"
)

func init() {
	// Keep the detection loop, and with it the OpenCV window, on the main thread.
	runtime.LockOSThread()
}

func main() {
	application, err := app.NewApp()
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		stop()
		if errors.Is(err, broker.ErrConnection) {
			log.Fatalf("Could not connect to MQTT broker: %v", err)
		}
		log.Fatalf("Traffic monitor failed: %v", err)
	}
}
