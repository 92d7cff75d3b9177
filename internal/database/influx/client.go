// Package influx writes dispatch and submission time series for dashboards.
// Writes are asynchronous and lossy by design; the Kafka archive is the
// durable record.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close flushes pending points and closes the connection.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// RecordDispatch writes one dispatch outcome measurement.
func (c *Client) RecordDispatch(outcome string, fee float64, latency time.Duration) {
	tags := map[string]string{
		"outcome": outcome,
	}

	fields := map[string]interface{}{
		"fee":        fee,
		"latency_ms": float64(latency.Milliseconds()),
		"count":      1,
	}

	point := write.NewPoint("dispatches", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// RecordSubmission writes one submission outcome measurement.
func (c *Client) RecordSubmission(outcome, reason string, fee float64) {
	tags := map[string]string{
		"outcome": outcome,
	}
	if reason != "" {
		tags["reason"] = reason
	}

	fields := map[string]interface{}{
		"fee":   fee,
		"count": 1,
	}

	point := write.NewPoint("submissions", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// RecordStoreDepth writes the candidate backlog size.
func (c *Client) RecordStoreDepth(candidates int) {
	fields := map[string]interface{}{
		"candidates": candidates,
	}

	point := write.NewPoint("store_depth", map[string]string{}, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// AcceptanceRate returns the share of accepted submissions over the window.
func (c *Client) AcceptanceRate(ctx context.Context, duration time.Duration) (float64, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "submissions")
		|> filter(fn: (r) => r._field == "count")
		|> group(columns: ["outcome"])
		|> sum()
	`, c.bucket, duration.String())

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer result.Close()

	var accepted, total int64
	for result.Next() {
		record := result.Record()
		if count, ok := record.Value().(int64); ok {
			total += count
			if record.ValueByKey("outcome") == "accepted" {
				accepted = count
			}
		}
	}

	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query result: %w", result.Err())
	}

	if total == 0 {
		return 0, nil
	}
	return float64(accepted) / float64(total), nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}
