// Package main implements workgen, the work-generation collaborator of the
// GMP mining proxy. It subscribes to upstream work announcements over ZMQ
// and persists pending work items for the dispatch engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mineproxy/gmp/internal/config"
	"github.com/mineproxy/gmp/internal/generator"
	redisstore "github.com/mineproxy/gmp/internal/store/redis"
	"github.com/mineproxy/gmp/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting workgen",
		"version", cfg.Version,
		"zmq_endpoint", cfg.ZMQEndpoint,
		"zmq_topic", cfg.ZMQTopic,
		"base_expire", cfg.BaseExpire,
	)

	store, err := redisstore.NewClient(&redisstore.Config{URL: cfg.RedisURL})
	if err != nil {
		logger.WithError(err).Error("failed to connect to work store")
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("failed to close work store")
		}
	}()

	gen := generator.New(cfg, logger, store)

	subscriber, err := generator.NewSubscriber(cfg.ZMQEndpoint, cfg.ZMQTopic, logger)
	if err != nil {
		logger.WithError(err).Error("failed to create ZMQ subscriber")
		os.Exit(1)
	}
	defer func() {
		if err := subscriber.Close(); err != nil {
			logger.WithError(err).Warn("failed to close ZMQ subscriber")
		}
	}()

	if err := subscriber.Connect(); err != nil {
		logger.WithError(err).Error("failed to connect to upstream")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := subscriber.Listen(ctx, func(data []byte) error {
			return gen.HandleAnnouncement(ctx, data)
		})
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("announcement listener failed")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()
	logger.Info("workgen stopped")
}
