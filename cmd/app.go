package main

import (
	"fmt"

	"cineshelf/config"
	"cineshelf/favorites"
	"cineshelf/loader"
	"cineshelf/notifier"
	"cineshelf/observer"
	"cineshelf/parser"
	"cineshelf/router"
	"cineshelf/scheduler"
	"cineshelf/scraper"
	"cineshelf/storage"

	"go.uber.org/zap"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *storage.SQLiteStorage
	registry  *observer.Registry
	router    *router.Router
	scraper   *scraper.Scraper
	endpoints scraper.Endpoints
	favorites *favorites.Service
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	store := storage.NewSQLiteStorage(cfg.DataPath, logger)
	if err := store.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := observer.NewRegistry(logger)
	rt := router.New(store, registry, logger)
	web := scraper.NewScraper(scraper.Options{
		Timeout:   cfg.HTTP.Timeout,
		UserAgent: cfg.HTTP.UserAgent,
	}, logger)
	endpoints := scraper.Endpoints{BaseURL: cfg.TMDB.BaseURL, APIKey: cfg.TMDB.APIKey}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		registry:  registry,
		router:    rt,
		scraper:   web,
		endpoints: endpoints,
		favorites: favorites.NewService(rt, web, parser.TMDB{}, endpoints, logger),
	}, nil
}

func (a *app) newLoader(exec loader.Executor) *loader.Loader {
	return loader.New(loader.Options{
		Querier:  a.router,
		Fetcher:  a.scraper,
		Parser:   parser.TMDB{},
		Executor: exec,
		Workers:  a.cfg.Loader.Workers,
		Logger:   a.logger,
	})
}

// refreshJob builds the favorites refresh, emailing a digest when a
// recipient is configured.
func (a *app) refreshJob() *scheduler.FavoritesRefreshJob {
	job := scheduler.NewFavoritesRefreshJob(a.favorites, a.cfg.Loader.Workers, a.logger)
	if a.cfg.Notify.Recipient != "" {
		job.WithNotifier(notifier.NewEmailNotifier(a.cfg.Notify, nil, a.logger))
	}
	return job
}

func (a *app) posterURL(m storage.Movie) string {
	if m.PosterPath == "" {
		return ""
	}
	return a.cfg.TMDB.ImageBaseURL + m.PosterPath
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close storage", zap.Error(err))
	}
}
