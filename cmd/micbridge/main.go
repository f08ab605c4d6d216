package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"micbridge/internal/bootstrap"
	"micbridge/internal/sink"
)

func main() {
	checkOnly := flag.Bool("check", false, "probe the server health endpoint and exit")
	duration := flag.Duration("duration", 0, "stop recording after this long (0 = run until interrupted)")
	debug := flag.Bool("debug", false, "verbose development logging")
	flag.Parse()

	// Optional; absence of a .env file is not an error.
	_ = godotenv.Load()

	logger := newLogger(*debug)
	defer logger.Sync()

	events := sink.New(logger.Named("events"), os.Stdout)
	services, err := bootstrap.Build(events, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := services.API.Health(ctx); err != nil {
		if *checkOnly {
			logger.Fatal("server unhealthy", zap.Error(err))
		}
		logger.Warn("server health probe failed, connecting anyway", zap.Error(err))
	}
	if *checkOnly {
		logger.Info("server healthy", zap.String("url", services.Config.Server.URL))
		return
	}

	if err := services.Coordinator.Start(ctx); err != nil {
		logger.Fatal("failed to start recording", zap.Error(err))
	}

	if *duration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(*duration):
		}
	} else {
		<-ctx.Done()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	session, err := services.Coordinator.Stop(stopCtx)
	if err != nil {
		logger.Fatal("failed to stop recording", zap.Error(err))
	}

	fmt.Printf("\nsession %s finished: %d chunks over %s\n",
		session.ID, session.ChunksSent, time.Since(session.StartTime).Round(time.Second))
	if session.StartBattery != nil && session.StopBattery != nil {
		fmt.Printf("battery %d%% -> %d%%\n", *session.StartBattery, *session.StopBattery)
	}
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
