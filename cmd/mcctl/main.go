package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	missionctl "github.com/mchub/missionctl"
	"github.com/mchub/missionctl/internal/config"
	"github.com/mchub/missionctl/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/mcctl.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting mcctl",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch flag.Arg(0) {
	case "watch":
		runErr = runWatch(ctx, cfg, logger, flag.Args()[1:])
	case "action":
		runErr = runAction(ctx, cfg, logger, flag.Args()[1:])
	default:
		fmt.Fprintln(os.Stderr, "usage: mcctl [-config path] watch <key|service/NAME>...")
		fmt.Fprintln(os.Stderr, "       mcctl [-config path] action <service> <action> [json-data]")
		os.Exit(2)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("command failed", "error", runErr)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newClient(cfg *config.Config, logger *slog.Logger) (*missionctl.Client, error) {
	ccfg := missionctl.DefaultConfig(cfg.Server.URL, cfg.Server.Token)
	ccfg.AuthTimeout = cfg.Client.AuthTimeout
	ccfg.ActionTimeout = cfg.Client.ActionTimeout
	ccfg.TransportConfig = missionctl.TransportConfig{
		PingTimeout:  cfg.Client.PingTimeout,
		ReconnectMin: cfg.Client.ReconnectMinDelay,
		ReconnectMax: cfg.Client.ReconnectMaxDelay,
		MaxAttempts:  cfg.Client.MaxReconnects,
	}
	return missionctl.New(ccfg, logger)
}

// runWatch subscribes to the given keys and prints every pushed event
// until interrupted. Arguments of the form "service/NAME" watch a service
// state instead of a plain event key.
func runWatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, keys []string) error {
	if len(keys) == 0 {
		return errors.New("watch: at least one key is required")
	}

	mc, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer mc.Close()

	mc.OnConnect(func() {
		logger.Info("connected")
	})
	mc.OnDisconnect(func(reason missionctl.DisconnectReason) {
		logger.Warn("disconnected", "reason", reason)
	})
	mc.OnReconnecting(func(attempt int) {
		logger.Info("reconnecting", "attempt", attempt)
	})
	mc.OnError(func(kind missionctl.ErrorKind, err error) {
		logger.Error("client error", "kind", kind, "error", err)
	})

	for _, key := range keys {
		if name, ok := cutServiceKey(key); ok {
			svc := mc.Service(name)
			dispose, err := svc.Subscribe(func(state json.RawMessage) {
				fmt.Printf("%s\tservice:%s\t%s\n", time.Now().Format(time.RFC3339), name, state)
			})
			if err != nil {
				return fmt.Errorf("watch service %q: %w", name, err)
			}
			defer dispose()
			continue
		}

		key := key
		dispose, err := mc.Subscribe(key, func(args ...json.RawMessage) {
			line, _ := json.Marshal(args)
			fmt.Printf("%s\t%s\t%s\n", time.Now().Format(time.RFC3339), key, line)
		})
		if err != nil {
			return fmt.Errorf("watch %q: %w", key, err)
		}
		defer dispose()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return mc.Close()
	})

	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				stats := mc.Stats()
				logger.Debug("stats",
					"state", stats.State,
					"subscriptions", stats.Subscriptions,
					"pending_subscribe", stats.PendingSubscribe,
					"pending_unsubscribe", stats.PendingUnsubscribe,
				)
			}
		}
	})

	return g.Wait()
}

// runAction invokes a single service action and prints the server's
// acknowledgement payload.
func runAction(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) < 2 {
		return errors.New("action: <service> <action> [json-data] required")
	}
	service, action := args[0], args[1]

	var data any
	if len(args) > 2 {
		if !json.Valid([]byte(args[2])) {
			return fmt.Errorf("action: data is not valid JSON: %q", args[2])
		}
		data = json.RawMessage(args[2])
	}

	mc, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer mc.Close()

	if err := waitReady(ctx, mc, cfg.Client.AuthTimeout+cfg.Client.ActionTimeout); err != nil {
		return err
	}

	resp, err := mc.Action(ctx, service, action, data)
	if err != nil {
		return err
	}

	if len(resp) == 0 {
		fmt.Println("ok")
	} else {
		fmt.Println(string(resp))
	}
	return nil
}

// waitReady blocks until the client reaches ready, the context ends, or
// the deadline passes.
func waitReady(ctx context.Context, mc *missionctl.Client, timeout time.Duration) error {
	ready := make(chan struct{})
	dispose := mc.OnConnect(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	defer dispose()

	if mc.Ready() {
		return nil
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for connection after %s", timeout)
	}
}

// cutServiceKey splits a "service/NAME" watch argument.
func cutServiceKey(key string) (string, bool) {
	const prefix = "service/"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):], true
	}
	return "", false
}
