package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caldavcal/internal/caldav"
	"caldavcal/internal/config"
	appLog "caldavcal/internal/log"
	"caldavcal/internal/platform"
	"caldavcal/internal/scheduler"
	"caldavcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	logLevel   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.Log.Level = flags.logLevel
	}

	level, ok := appLog.ParseLevel(conf.Log.Level)
	appLog.Configure(level, appLog.FileOptions{
		Path:       conf.Log.File,
		MaxSizeMB:  conf.Log.MaxSizeMB,
		MaxBackups: conf.Log.MaxBackups,
	})
	defer appLog.Close()
	if !ok {
		appLog.Warn("unknown log level, using info", "level", conf.Log.Level)
	}

	appLog.Info("caldavcal starting", "version", version)

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		appLog.Close()
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"refresh", conf.Refresh,
		"timezone", conf.Timezone,
		"server", conf.Server.URL,
		"calendars", len(conf.Entities),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("caldavcal failed", err)
		appLog.Close()
		os.Exit(1)
	}
	appLog.Info("caldavcal exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	timeout, err := conf.RequestTimeout()
	if err != nil {
		return err
	}

	client, err := caldav.Connect(ctx, caldav.Options{
		URL:        conf.Server.URL,
		Username:   conf.Server.Username,
		Password:   conf.Server.Password,
		CACertPath: conf.Server.CACertPath,
		Timeout:    timeout,
	})
	if err != nil {
		return err
	}

	reg, err := platform.Setup(ctx, conf, client)
	if err != nil {
		return err
	}
	appLog.Info("calendar entities ready", "count", reg.Len())

	sched, err := scheduler.New(conf.Refresh, reg)
	if err != nil {
		return err
	}

	// First refresh right away so states are populated before the first tick.
	if err := sched.RunOnce(ctx); err != nil && once {
		return err
	}
	if once {
		for _, a := range reg.All() {
			st := a.State()
			appLog.Info("entity state", "entity_id", st.EntityID, "state", st.State, "summary", st.Attributes["summary"])
		}
		return nil
	}

	sched.Start()
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := sched.Stop(stopCtx); err != nil {
			appLog.Error("scheduler stop", err)
		}
	}()

	if conf.Listen == "" {
		<-ctx.Done()
		return nil
	}
	return web.Serve(ctx, conf, reg)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/caldavcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh every entity once, print states and exit")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	flag.Parse()

	return cfg
}
