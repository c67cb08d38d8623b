package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codefionn/wsrpc/internal/config"
	"github.com/codefionn/wsrpc/internal/logger"
	"github.com/codefionn/wsrpc/internal/messaging"
	"github.com/codefionn/wsrpc/internal/pidfile"
	"github.com/codefionn/wsrpc/internal/server"
	"github.com/codefionn/wsrpc/internal/socket"
	"github.com/codefionn/wsrpc/internal/transport"
	"github.com/joho/godotenv"
)

type options struct {
	configPath string
	listen     string
	logLevel   string
	logPath    string
	watch      bool
	pidFile    string

	probeURL    string
	probeMethod string
	probeParams string
	probeHeader headerFlag
	timeout     time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("wsrpc", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "Path to config file (.json, .yaml)")
	fs.StringVar(&opts.listen, "listen", "", "Listen address (overrides config)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error, none")
	fs.StringVar(&opts.logPath, "log-path", "", "Log file path, '-' for stderr")
	fs.StringVar(&opts.pidFile, "pidfile", "", "Write the server PID to this file")
	fs.BoolVar(&opts.watch, "watch", false, "Reload the log level when the config file changes")
	fs.StringVar(&opts.probeURL, "probe", "", "Dial a ws:// route, perform one call and exit")
	fs.StringVar(&opts.probeMethod, "method", server.MethodPing, "Method used by -probe")
	fs.StringVar(&opts.probeParams, "params", "", "JSON params used by -probe")
	fs.Var(&opts.probeHeader, "header", "Header sent by -probe as Name:Value (repeatable)")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Timeout for -probe")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func run(args []string, stdout io.Writer) (err error) {
	opts, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()
	applyFlags(cfg, opts)

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	if opts.probeURL != "" {
		return probe(opts, stdout)
	}
	return serve(cfg, opts)
}

func applyFlags(cfg *config.Config, opts *options) {
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logPath != "" {
		cfg.LogPath = opts.logPath
	}
	if opts.pidFile != "" {
		cfg.PidFile = opts.pidFile
	}
}

func serve(cfg *config.Config, opts *options) error {
	logger.Info("wsrpc starting")
	logger.Debug("Configuration loaded: listen=%s, routes=%d, log_level=%s", cfg.Listen, len(cfg.Routes), cfg.LogLevel)

	if cfg.PidFile != "" {
		pf := pidfile.New(cfg.PidFile)
		if err := pf.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := pf.Release(); err != nil {
				logger.Warn("%v", err)
			}
		}()
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	if opts.watch {
		watcher, err := config.Watch(opts.configPath, func(updated *config.Config) {
			applyFlags(updated, opts)
			logger.Global().SetLevel(logger.ParseLevel(updated.LogLevel))
			logger.Info("Log level set to %s", logger.Global().GetLevel())
		})
		if err != nil {
			logger.Warn("Config watch disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	logger.Info("Received %s, shutting down", sig)
	return srv.Stop()
}

func probe(opts *options, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	tr, err := transport.Dial(ctx, opts.probeURL, opts.probeHeader.header(), transport.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", opts.probeURL, err)
	}

	log := messaging.NewConsoleLogger()
	conn := messaging.NewConnection(context.Background(), socket.FromTransport(tr, log), log, nil)
	defer conn.Close()

	var params interface{}
	if opts.probeParams != "" {
		raw := json.RawMessage(opts.probeParams)
		if !json.Valid(raw) {
			return fmt.Errorf("params are not valid JSON")
		}
		params = raw
	}

	var result json.RawMessage
	if err := conn.Call(ctx, opts.probeMethod, params, &result); err != nil {
		return fmt.Errorf("%s failed: %w", opts.probeMethod, err)
	}

	fmt.Fprintln(stdout, string(result))
	return nil
}
