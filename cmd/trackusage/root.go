package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgoulah/trackusage/internal/aggregator"
	"github.com/jgoulah/trackusage/internal/clock"
	"github.com/jgoulah/trackusage/internal/config"
	"github.com/jgoulah/trackusage/internal/database"
	"github.com/jgoulah/trackusage/internal/logger"
	"github.com/jgoulah/trackusage/internal/publisher"
	"github.com/jgoulah/trackusage/internal/scheduler"
	"github.com/jgoulah/trackusage/internal/source"
)

var (
	cfgFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "trackusage",
	Short: "Aggregate weekly vehicle usage from the access-control system",
	Long: `TrackUsage reads vehicle visits from the access-control report, classifies them
by EJA code and stores idempotent weekly rollups in a local SQLite database.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./data.db)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the database file path, flag first then config
func getDBPath(cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.GetDatabasePath()
}

// loadConfig loads the configuration file
func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}

// openDB opens the database connection
func openDB(cfg *config.Config) (*database.DB, error) {
	path := getDBPath(cfg)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return database.NewInLocation(path, loc)
}

// pipeline bundles everything a run needs so commands can close it in one place
type pipeline struct {
	db     *database.DB
	src    *source.SQLSource
	pub    *publisher.Publisher
	log    *zap.Logger
	agg    *aggregator.Aggregator
	runner *scheduler.Runner
}

func (p *pipeline) Close() {
	if p.pub != nil {
		p.pub.Close()
	}
	if p.src != nil {
		p.src.Close()
	}
	if p.db != nil {
		p.db.Close()
	}
	p.log.Sync()
}

// openPipeline wires config, store, source, publisher and scheduler together
func openPipeline(cfg *config.Config) (_ *pipeline, err error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	p := &pipeline{log: log}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	weekday, err := cfg.Schedule.GetWeekday()
	if err != nil {
		return nil, err
	}
	hour, minute, err := cfg.Schedule.GetTimeOfDay()
	if err != nil {
		return nil, err
	}

	p.db, err = openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	p.src, err = source.NewSQLSource(cfg.Source, loc, log)
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}

	var pub scheduler.Publisher
	if cfg.MQTT.Enabled {
		p.pub, err = publisher.New(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("creating publisher: %w", err)
		}
		pub = p.pub
	}

	p.agg = aggregator.New(p.src, p.db, clock.Real{}, log.Named("aggregator"), aggregator.Options{
		RequireExitTime: cfg.ExitTimeRequired(),
		SourceTimeout:   cfg.Source.GetTimeout(),
		Location:        loc,
	})
	p.runner = scheduler.New(p.agg, p.db, pub, scheduler.Schedule{
		Weekday:       weekday,
		Hour:          hour,
		Minute:        minute,
		CheckInterval: cfg.Schedule.GetCheckInterval(),
		RunTimeout:    cfg.Schedule.GetRunTimeout(),
	}, log.Named("scheduler"))

	return p, nil
}
