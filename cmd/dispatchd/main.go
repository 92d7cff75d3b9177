// Package main implements dispatchd, the work dispatch and lifecycle engine
// of the GMP mining proxy. It serves the miner-facing HTTP API and owns all
// work item state transitions against the shared redis store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mineproxy/gmp/internal/api"
	"github.com/mineproxy/gmp/internal/config"
	"github.com/mineproxy/gmp/internal/database/influx"
	"github.com/mineproxy/gmp/internal/engine"
	"github.com/mineproxy/gmp/internal/messaging"
	"github.com/mineproxy/gmp/internal/notify"
	redisstore "github.com/mineproxy/gmp/internal/store/redis"
	"github.com/mineproxy/gmp/internal/verify"
	"github.com/mineproxy/gmp/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting dispatchd",
		"version", cfg.Version,
		"min_fee", cfg.MinFee,
		"max_dispatch", cfg.MaxDispatch,
		"inc_expire", cfg.IncExpire,
		"verify_sign", cfg.VerifySign,
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

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka client")
		}
	}()

	notifier := buildNotifier(cfg, kafkaClient, logger)

	var recorder engine.Recorder
	if cfg.InfluxToken != "" {
		influxClient, err := influx.NewClient(&influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			logger.WithError(err).Warn("influx unavailable, continuing without time series")
		} else {
			recorder = influxClient
			defer influxClient.Close()
		}
	}

	eng := engine.New(cfg, logger, engine.Deps{
		Store:    store,
		Counters: store,
		Verifier: verify.ForConfig(cfg.VerifySign, store),
		Events:   messaging.NewEventPublisher(kafkaClient),
		Notifier: notifier,
		Recorder: recorder,
	})

	var registrar api.Registrar
	if cfg.VerifySign {
		registrar = store
	}

	server := api.New(cfg, logger, eng, registrar, store)
	server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("api shutdown failed")
	}

	logger.Info("dispatchd stopped")
}

// buildNotifier assembles the admin notification fan-out from the config.
func buildNotifier(cfg *config.Config, kafkaClient *messaging.KafkaClient, logger *log.Logger) notify.Notifier {
	if !cfg.NotifyEnabled {
		return notify.Nop{}
	}

	sinks := notify.Multi{notify.NewKafkaNotifier(kafkaClient, cfg.Admins, logger)}

	if cfg.DiscordToken != "" && cfg.DiscordChannelID != "" {
		discord, err := notify.NewDiscordNotifier(cfg.DiscordToken, cfg.DiscordChannelID, logger)
		if err != nil {
			logger.WithError(err).Warn("discord unavailable, continuing without it")
		} else {
			sinks = append(sinks, discord)
		}
	}

	return sinks
}
