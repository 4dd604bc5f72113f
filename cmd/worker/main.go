package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"latecomers/internal/app"
	"latecomers/internal/config"
	"latecomers/internal/scheduler"
)

// Worker fires the monthly late-comers reset on its cron schedule.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open backends failed: %v", err)
	}
	defer a.Close()

	var lock scheduler.Locker
	if a.Redis.Healthy(ctx) {
		lock = a.Redis
		log.Println("redis connected, monthly reset is claimed once per period")
	} else {
		log.Printf("WARNING: redis at %s not reachable, running without a run lock", cfg.RedisAddr)
	}

	s, err := scheduler.New(a.Reset, lock, scheduler.Options{
		Schedule: cfg.ResetSchedule,
		Timeout:  cfg.ResetTimeout,
		Location: cfg.Policy.Location(),
	})
	if err != nil {
		log.Fatalf("scheduler init failed: %v", err)
	}

	s.Start()
	log.Println("worker started, waiting for schedule...")
	<-ctx.Done()

	stopCtx, stop := context.WithTimeout(context.Background(), cfg.ResetTimeout+10*time.Second)
	defer stop()
	s.Stop(stopCtx)
	log.Println("worker stopped")
}
