// Package main implements archiver, the archive consumer of the GMP mining
// proxy. It drains dispatch and solution events from Kafka into PostgreSQL
// and InfluxDB; the accepted-solution rows are the payout reconciliation
// source.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mineproxy/gmp/internal/config"
	"github.com/mineproxy/gmp/internal/database"
	"github.com/mineproxy/gmp/internal/database/influx"
	"github.com/mineproxy/gmp/internal/messaging"
	"github.com/mineproxy/gmp/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting archiver",
		"version", cfg.Version,
		"kafka_brokers", cfg.KafkaBrokers,
		"group_id", cfg.KafkaGroupID,
	)

	var influxCfg *influx.Config
	if cfg.InfluxToken != "" {
		influxCfg = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}

	archive, err := database.NewManager(cfg.PostgresURL, influxCfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to archive")
		os.Exit(1)
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logger.WithError(err).Warn("failed to close archive")
		}
	}()

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka client")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	archive.StartPeriodicTasks(ctx)

	go func() {
		handler := &dispatchHandler{archive: archive, logger: logger}
		err := kafkaClient.StartConsumer(ctx, messaging.TopicDispatches, cfg.KafkaGroupID, handler)
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("dispatch consumer failed")
			cancel()
		}
	}()

	go func() {
		handler := &solutionHandler{archive: archive, logger: logger}
		err := kafkaClient.StartConsumer(ctx, messaging.TopicSolutions, cfg.KafkaGroupID, handler)
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("solution consumer failed")
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
	logger.Info("archiver stopped")
}

// dispatchHandler archives dispatch events.
type dispatchHandler struct {
	archive *database.Manager
	logger  *log.Logger
}

func (h *dispatchHandler) HandleMessage(ctx context.Context, key string, value []byte) error {
	var ev messaging.DispatchEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		// poison message, log and move on
		h.logger.WithError(err).Warn("dropping undecodable dispatch event", "key", key)
		return nil
	}
	return h.archive.ArchiveDispatch(ctx, &ev)
}

// solutionHandler archives solution outcomes.
type solutionHandler struct {
	archive *database.Manager
	logger  *log.Logger
}

func (h *solutionHandler) HandleMessage(ctx context.Context, key string, value []byte) error {
	var ev messaging.SolutionEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		h.logger.WithError(err).Warn("dropping undecodable solution event", "key", key)
		return nil
	}
	return h.archive.ArchiveSolution(ctx, &ev)
}
