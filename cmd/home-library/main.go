package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"home-library/internal/auth"
	"home-library/internal/config"
	"home-library/internal/library"
	"home-library/internal/models"
	"home-library/internal/query"
	"home-library/internal/server"
	"home-library/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("failed to load .env file")
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(config.LogLevel())

	mediaRoot, err := config.ResolveMediaRoot()
	if err != nil {
		logger.WithError(err).Fatal("resolve media root")
	}

	listenAddr := config.ListenAddr()
	if err := config.ValidateListenAddr(listenAddr); err != nil {
		logger.WithError(err).WithField("addr", listenAddr).Fatal("invalid listen address")
	}

	cfg, err := config.Load(mediaRoot)
	if err != nil {
		logger.WithError(err).Fatal("load configuration")
	}

	debounce := config.RefreshDebounce()

	st, err := openStore(logger)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithError(err).Warn("error closing store")
		}
	}()

	sources := make([]server.LibrarySource, 0, len(cfg.Libraries))
	for _, info := range cfg.Libraries {
		info := info
		lib, err := library.New(info, library.Options{
			Extensions: config.AllowedExtensions(),
			Prefixes:   cfg.Settings.Prefixes,
			Debounce:   debounce,
			Logger:     logger,
			OnRefresh:  syncEntities(st, info.ID, logger),
		})
		if err != nil {
			logger.WithError(err).WithField("library", info.ID).Fatal("initialise library")
		}
		defer func() {
			if err := lib.Close(); err != nil {
				logger.WithError(err).WithField("library", info.ID).Warn("error closing library")
			}
		}()
		sources = append(sources, lib)
	}

	opts := server.Options{
		Libraries: sources,
		Progress:  st,
		Entities:  st,
		Feed: server.FeedMetadata{
			Title:       cfg.Feed.Title,
			Description: cfg.Feed.Description,
			Language:    cfg.Feed.Language,
			Author:      cfg.Feed.Author,
		},
		Logger: logger,
	}

	tokenFile, tokensEnabled, err := config.ResolveTokenFile()
	if err != nil {
		logger.WithError(err).Fatal("resolve token file")
	}
	if tokensEnabled {
		tokenStore, err := auth.NewTokenStore(tokenFile, debounce, logger)
		if err != nil {
			logger.WithError(err).Fatal("initialise token store")
		}
		defer func() {
			if err := tokenStore.Close(); err != nil {
				logger.WithError(err).Warn("error closing token store")
			}
		}()
		opts.Auth = tokenStore
	}

	opts.Query = query.NewService(query.Settings{
		IgnorePrefix: cfg.Settings.IgnorePrefix,
		Prefixes:     cfg.Settings.Prefixes,
		Locale:       cfg.Settings.Locale,
		SearchLimit:  cfg.Settings.SearchLimit,
	}, st, server.NewSeriesFeeds(st), st, logger)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server.New(opts),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("graceful shutdown error")
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":      listenAddr,
		"media":     mediaRoot,
		"libraries": len(sources),
		"tokens":    tokensEnabled,
	}).Info("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("http server error")
	}
	logger.Info("shutdown complete")
}

func openStore(logger *logrus.Logger) (store.Store, error) {
	path, ok, err := config.DatabasePath()
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Info("no database configured, keeping entities in memory")
		return store.NewMemory(), nil
	}
	db, err := store.OpenSQLite(path, logger)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func syncEntities(st store.Store, libraryID string, logger *logrus.Logger) func([]*models.LibraryItem) {
	return func(items []*models.LibraryItem) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := st.Sync(ctx, items); err != nil {
			logger.WithError(err).WithField("library", libraryID).Error("entity sync failed")
		}
	}
}
