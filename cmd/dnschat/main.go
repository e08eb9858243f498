package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dnschat/pkg/chat"
	"dnschat/pkg/config"
	"dnschat/pkg/logging"
	"dnschat/pkg/resolver"
	"dnschat/pkg/storage"
	"dnschat/pkg/telemetry"
)

var (
	configPath   = flag.String("config", "", "Path to configuration file (optional)")
	server       = flag.String("server", "", "DNS chat server (overrides config)")
	port         = flag.Int("port", 0, "DNS port (overrides config)")
	capabilities = flag.Bool("capabilities", false, "Print resolver capabilities and exit")
	raw          = flag.Bool("raw", false, "Print raw TXT strings instead of the assembled response")
	version      = "dev"
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Resolver.Server = *server
	}
	if *port != 0 {
		cfg.Resolver.Port = *port
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("dnschat starting", "version", version, "server", cfg.Resolver.Server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	r := resolver.New(&cfg.Resolver, logger, metrics)
	defer r.Cleanup()

	if !cfg.Sanitizer.IsZero() {
		changed, err := r.ConfigureSanitizer(cfg.Sanitizer.ToMap())
		if err != nil {
			logger.Error("Invalid sanitizer configuration", "error", err)
			os.Exit(1)
		}
		logger.Debug("Sanitizer configured", "changed", changed)
	}

	if cfg.Storage.LogQueries {
		stor, err := storage.New(&cfg.Storage)
		if err != nil {
			logger.Error("Failed to open query-log storage", "error", err)
			os.Exit(1)
		}
		defer stor.Close()
		r.SetQueryLog(resolver.NewQueryLogger(stor, logger, cfg.Storage.BufferSize, cfg.Storage.Workers))

		retention := time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour
		if err := stor.Cleanup(ctx, time.Now().Add(-retention)); err != nil {
			logger.Warn("Query-log retention cleanup failed", "error", err)
		}
	}

	if *capabilities {
		caps := r.Capabilities(ctx)
		out, _ := json.MarshalIndent(caps, "", "  ")
		fmt.Println(string(out))
		return
	}

	message := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if message == "" {
		interactive(ctx, cfg, r, logger)
		return
	}

	if err := send(ctx, cfg, r, message); err != nil {
		logger.Error("Query failed", "error", err)
		os.Exit(1)
	}
}

func send(ctx context.Context, cfg *config.Config, r *resolver.Resolver, message string) error {
	records, err := r.QueryTXT(ctx, cfg.Resolver.Server, message, cfg.Resolver.Port)
	if err != nil {
		return err
	}
	if *raw {
		for _, record := range records {
			fmt.Println(record)
		}
		return nil
	}
	fmt.Println(chat.Assemble(records))
	return nil
}

// interactive reads messages from stdin until EOF. With a config file given,
// sanitizer rule edits take effect between messages via the file watcher.
func interactive(ctx context.Context, cfg *config.Config, r *resolver.Resolver, logger *logging.Logger) {
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath)
		if err != nil {
			logger.Error("Failed to start config watcher", "error", err)
			os.Exit(1)
		}
		watcher.OnChange(func(updated *config.Config) {
			if updated.Sanitizer.IsZero() {
				return
			}
			if _, err := r.ConfigureSanitizer(updated.Sanitizer.ToMap()); err != nil {
				logger.Error("Rejected sanitizer configuration update", "error", err)
			}
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				logger.Error("Config watcher stopped", "error", err)
			}
		}()
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		message := strings.TrimSpace(scanner.Text())
		if message != "" {
			if err := send(ctx, cfg, r, message); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		fmt.Print("> ")
	}
}

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		return config.LoadWithDefaults(), nil
	}
	return config.Load(*configPath)
}
