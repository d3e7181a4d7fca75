package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"marketescrow/internal/config"
	"marketescrow/internal/notify"
)

// The notifier drains marketplace.notifications and logs every message. A
// real delivery channel (email, push) plugs in behind deliver.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("notifier: consuming %s", notify.QueueName)
	err = notify.Consume(ctx, cfg.RabbitMQURL, deliver)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("notifier: %v", err)
	}
	log.Println("notifier: stopped")
}

func deliver(ctx context.Context, n notify.Notification) error {
	return notify.LogSink{}.Send(ctx, n)
}
