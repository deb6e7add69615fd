package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimasrn/mail-tracker/internal/app"
	"github.com/nimasrn/mail-tracker/internal/config"
	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/nimasrn/mail-tracker/pkg/logger"
	"github.com/nimasrn/mail-tracker/pkg/pg"
)

const usage = `usage: cli <command> [--env=path]

commands:
  migrate [up|down|status|reset] [--dir=./migrations]   run postgres migrations
  send [--recipients=path]                             send one batch and print the summary
  events-tail [--consumer=name]                        print engagement events as they arrive
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		err = runMigrate()
	case "send":
		err = runSend()
	case "events-tail":
		err = runEventsTail()
	default:
		fmt.Print(usage)
		os.Exit(2)
	}
	logger.Sync()
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func runMigrate() error {
	command := "up"
	if len(os.Args) > 2 && !strings.HasPrefix(os.Args[2], "--") {
		command = os.Args[2]
	}
	c := config.Get()
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is not set")
	}
	return pg.Migrate(app.PostgresConfig(c), getFlag("dir", "./migrations"), command)
}

func runSend() error {
	c := config.Get()
	if path := getFlag("recipients", ""); path != "" {
		c.RecipientsPath = path
	}

	ctx, cancel := signalContext()
	defer cancel()

	deps, err := app.Bootstrap(ctx, c)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	svc, err := app.NewDispatchService(c, deps, nil)
	if err != nil {
		return err
	}
	result, err := svc.SendBatch(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runEventsTail() error {
	c := config.Get()
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is not set")
	}
	adapter := app.OpenRedis(c)
	if adapter == nil {
		return fmt.Errorf("redis at %s is unreachable", c.RedisAddr)
	}
	defer adapter.Close()

	consumer := getFlag("consumer", "")
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	stream, err := app.NewEngagementStream(adapter, c, consumer)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger.Info("tailing engagement events", "stream", c.EventStreamName, "group", c.EventStreamGroup, "consumer", consumer)
	enc := json.NewEncoder(os.Stdout)
	return stream.Tail(ctx, func(ev *model.EngagementEvent) error {
		return enc.Encode(ev)
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func getEnvPath() string {
	if path := getFlag("env", ""); path != "" {
		if _, err := os.Stat(path); err != nil {
			logger.Error("failed to open the passed env file", "path", path, "error", err)
			return ""
		}
		return path
	}
	if _, err := os.Stat(".env"); err != nil {
		return ""
	}
	return ".env"
}

func getFlag(name, def string) string {
	prefix := "--" + name + "="
	for _, v := range os.Args {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return def
}
