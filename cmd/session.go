package main

import (
	"context"
	"fmt"

	"github.com/google/logger"

	"tombola/internal/config"
	"tombola/internal/export"
	"tombola/internal/loader"
	"tombola/internal/metrics"
	"tombola/internal/services"
	"tombola/internal/storage/sqlite"
)

// app bundles a resumed draw session with the resources it holds.
type app struct {
	cfg     *config.Config
	session *services.DrawSession
	metrics *metrics.Collector
	exports export.Files
	ledger  *sqlite.Ledger
}

func (a *app) Close() {
	if err := a.ledger.Close(); err != nil {
		logger.Errorf("Closing ledger: %v", err)
	}
}

// openApp loads the tickets and lots, opens the ledger and resumes the
// session from it.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tickets, err := loader.LoadTickets(cfg.TicketsPath)
	if err != nil {
		return nil, err
	}
	lots, err := loader.LoadLots(cfg.LotsPath)
	if err != nil {
		return nil, err
	}
	logger.Infof("Loaded %d tickets and %d lots", len(tickets), len(lots))

	ledger, err := sqlite.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	collector := metrics.New()
	exports := export.Files{ResultsPath: cfg.ResultsExport, PublicPath: cfg.PublicExport}
	engine := services.NewEngine(services.NewLiveSource(), cfg.Policy)
	session := services.NewDrawSession(tickets, lots, cfg.RestrictedLots, engine, ledger,
		services.WithExporter(exports),
		services.WithRecorder(collector),
	)
	if err := session.Resume(ctx); err != nil {
		ledger.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		session: session,
		metrics: collector,
		exports: exports,
		ledger:  ledger,
	}, nil
}
