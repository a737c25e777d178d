package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/trip-ledger/internal/category"
	"github.com/zombor/trip-ledger/internal/config"
	"github.com/zombor/trip-ledger/internal/geo"
	"github.com/zombor/trip-ledger/internal/photo"
	"github.com/zombor/trip-ledger/internal/receipt"
	"github.com/zombor/trip-ledger/internal/scanning"
)

func (a *app) openStore() (receipt.Store, error) {
	switch a.cfg.Store {
	case config.StoreBolt:
		slog.Debug("Opening bolt store", "path", a.cfg.BoltPath)
		return receipt.NewBoltStore(a.cfg.BoltPath)
	default:
		slog.Debug("Opening CSV store", "dir", a.cfg.DataDir)
		return receipt.NewCSVStore(a.cfg.DataDir)
	}
}

func (a *app) classifier() (*category.Classifier, error) {
	if a.cfg.KeywordsFile == "" {
		return category.New(), nil
	}
	return category.LoadFile(a.cfg.KeywordsFile)
}

func (a *app) processingCache() *receipt.ProcessingCache {
	return receipt.NewProcessingCache(a.cfg.ProcessedCachePath())
}

func (a *app) geocoder() *geo.Geocoder {
	return geo.NewGeocoder(a.cfg.GoogleMapsAPIKey, "", geo.NewCache(a.cfg.GeocodingCachePath()))
}

// pipeline is a Service plus the resources it holds open
type pipeline struct {
	service   *receipt.Service
	store     receipt.Store
	extractor scanning.Extractor
}

func (p *pipeline) Close() {
	if err := p.extractor.Close(); err != nil {
		slog.Warn("Failed to close extractor", "error", err)
	}
	if err := p.store.Close(); err != nil {
		slog.Warn("Failed to close store", "error", err)
	}
}

// newPipeline wires the extraction backend, preprocessor, classifier,
// cache, ledger and photo storage into a Service
func (a *app) newPipeline(ctx context.Context) (*pipeline, error) {
	if err := a.cfg.ValidateExtraction(); err != nil {
		return nil, err
	}

	classifier, err := a.classifier()
	if err != nil {
		return nil, err
	}

	slog.Info("Initializing extractor", "provider", a.cfg.Extraction.Provider)
	extractor, err := scanning.New(ctx, a.cfg.ScanningOptions())
	if err != nil {
		return nil, fmt.Errorf("initializing extractor: %w", err)
	}

	store, err := a.openStore()
	if err != nil {
		extractor.Close()
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	photos, err := receipt.NewLocalStorage(a.cfg.PhotoDir)
	if err != nil {
		extractor.Close()
		store.Close()
		return nil, err
	}

	service := receipt.NewService(
		receipt.ServiceConfig{DefaultCurrency: a.cfg.Currency()},
		extractor,
		photo.NewPreprocessor(a.cfg.MaxImageSize, a.cfg.CacheDir),
		classifier,
		a.processingCache(),
		store,
		photos,
	)
	return &pipeline{service: service, store: store, extractor: extractor}, nil
}
