// Command afkrun hosts a Runner/Scheduler pair against a configured Storage
// workspace. Command-line parsing is intentionally minimal — a -config
// flag and a -version flag — since CLI ergonomics are out of scope. No task
// callables are registered here: the scheduler is started with an empty
// registry, and the configured tasks are only logged.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/neo154/afkrun/internal/build"
	"github.com/neo154/afkrun/internal/config"
	"github.com/neo154/afkrun/internal/logger"
	"github.com/neo154/afkrun/internal/logroute"
	"github.com/neo154/afkrun/internal/runner"
	"github.com/neo154/afkrun/internal/scheduler"
	"github.com/neo154/afkrun/internal/storage"
)

func main() {
	configPath := flag.String("config", "afkrun.yaml", "path to the daemon configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", build.AppName, build.Version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("afkrun: %w", err)
	}

	log := buildLogger(cfg)
	log.Infof("%s %s starting: host_id=%s workspace_lock=%v", build.AppName, build.Version, cfg.HostID, cfg.WorkspaceLock)

	sched, err := buildDaemon(cfg, log)
	if err != nil {
		return fmt.Errorf("afkrun: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	listenSignals(ctx, cancel, log)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("afkrun: start: %w", err)
	}
	log.Info("daemon started")

	<-ctx.Done()
	log.Info("shutdown signal received, draining")
	sched.Shutdown(false)
	log.Info("daemon stopped")
	return nil
}

func buildLogger(cfg *config.DaemonConfig) logger.Logger {
	opts := []logger.Option{logger.WithFormat(cfg.LogFormat)}
	if cfg.LogLevel == "debug" {
		opts = append(opts, logger.WithDebug())
	}
	return logger.NewLogger(opts...)
}

// buildDaemon wires Storage, log routing, the Runner, and the Scheduler
// over the decoded configuration. Actual RegisteredTask bindings (the real
// Main callables behind each cfg.Tasks entry) are not created here; each
// configured task-id is only logged, without any validation.
func buildDaemon(cfg *config.DaemonConfig, log logger.Logger) (*scheduler.Scheduler, error) {
	ctx := context.Background()

	baseLoc, err := config.BuildLocation(cfg.Storage.BaseLoc)
	if err != nil {
		return nil, fmt.Errorf("build base location: %w", err)
	}

	s, err := storage.New(ctx, storage.Config{BaseLoc: baseLoc, JobDesc: cfg.HostID})
	if err != nil {
		return nil, fmt.Errorf("build storage: %w", err)
	}

	router := logroute.NewRouter(s.LogLoc())

	r, err := runner.New(runner.Config{
		HostID:  cfg.HostID,
		RunType: "production",
		Storage: s,
		Router:  router,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}

	fileCheckInterval, err := time.ParseDuration(cfg.FileCheckInterval)
	if err != nil {
		return nil, fmt.Errorf("parse file_check_interval: %w", err)
	}

	scheduleFile := s.BaseLoc().JoinLoc("scheduler_loc").JoinLoc("schedule_additions.json")
	sched, err := scheduler.New(scheduler.Config{
		Runner:            r,
		ScheduleFile:      scheduleFile,
		FileCheckInterval: fileCheckInterval,
		Logger:            log,
	})
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	for _, t := range cfg.Tasks {
		log.Infof("task %s configured with default args, awaiting RegisterTask from the embedding application", t.TaskID)
	}

	return sched, nil
}
