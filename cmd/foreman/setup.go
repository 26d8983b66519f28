package main

import (
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/coordinator"
	"github.com/ShayCichocki/foreman/internal/lease"
	"github.com/ShayCichocki/foreman/internal/resolver"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/internal/taskstore"
)

// openCoordinator builds a coordinator over the project database in the
// current directory, restoring persisted tasks and leases. The returned
// cleanup closes the database and logger.
func openCoordinator(withResolver bool) (*coordinator.Coordinator, func(), error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	db, err := state.OpenProject(cwd)
	if err != nil {
		return nil, nil, fmt.Errorf("open project database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	var res *resolver.Resolver
	if withResolver {
		reasoning, err := resolver.NewClaudeResolver(resolver.ClaudeConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        cfg.Anthropic.APIKey,
			UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("create reasoning service: %w", err)
		}
		res = resolver.New(reasoning, nil, resolver.Config{
			SimilarityThreshold: cfg.Resolver.SimilarityThreshold,
			MaxCandidates:       cfg.Resolver.MaxCandidates,
			Workers:             cfg.Resolver.Workers,
		})
	}

	registry := lease.NewRegistry(leaseConfig(cfg), db)
	c := coordinator.New(taskstore.New(), registry, res)
	c.SetTaskPersistence(db)

	logger := coordinator.NewDebugLoggerForProject(cwd)
	c.SetLogger(logger)

	if err := c.Restore(); err != nil {
		logger.Close()
		db.Close()
		return nil, nil, fmt.Errorf("restore state: %w", err)
	}

	cleanup := func() {
		logger.Close()
		db.Close()
	}
	return c, cleanup, nil
}

// leaseConfig maps file configuration onto the lease registry's tuning.
func leaseConfig(cfg *config.Config) lease.Config {
	lc := lease.DefaultConfig()
	if cfg.Lease.BaseHours > 0 {
		lc.BaseHours = cfg.Lease.BaseHours
	}
	if cfg.Lease.MinHours > 0 {
		lc.MinHours = cfg.Lease.MinHours
	}
	if cfg.Lease.MaxHours > 0 {
		lc.MaxHours = cfg.Lease.MaxHours
	}
	if cfg.Lease.DecayFactor > 0 {
		lc.DecayFactor = cfg.Lease.DecayFactor
	}
	if cfg.Lease.WarningHours > 0 {
		lc.WarningHours = cfg.Lease.WarningHours
	}
	if cfg.Lease.GracePeriod > 0 {
		lc.GracePeriod = cfg.Lease.GracePeriod
	}
	if cfg.Lease.MonitorInterval > 0 {
		lc.MonitorInterval = cfg.Lease.MonitorInterval
	}
	if cfg.Lease.StuckThreshold > 0 {
		lc.StuckThreshold = cfg.Lease.StuckThreshold
	}
	return lc
}
