package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/vrpn-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	// Lifecycle events are rare, so small batches flushed every few
	// seconds keep points timely without a request per point.
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client writes server lifecycle points to one InfluxDB v2 bucket. Writes
// are batched and never block the supervisor; failures arrive through the
// SetOnError hook.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes after Close are dropped.
type Client struct {
	influx   influxdb2.Client
	writeAPI api.WriteAPI

	open atomic.Bool

	mu      sync.RWMutex
	onError func(err error)
}

// Connect pings the server before returning, so a bad URL or a stopped
// server is reported at startup rather than on the first write.
//
// Parameters:
//   - cfg: InfluxDB section of config.yaml
//
// Returns:
//   - *Client: Connected client with a batching write API
//   - error: ErrDisabled when the section is off, ErrConnectionFailed when the ping fails
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize(cfg)).
		SetFlushInterval(uint(flushInterval(cfg).Milliseconds())) // #nosec G115 -- positive by construction
	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		influx:   influx,
		writeAPI: influx.WriteAPI(cfg.Org, cfg.Bucket),
	}
	c.open.Store(true)
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

func batchSize(cfg config.InfluxDBConfig) uint {
	if cfg.BatchSize <= 0 {
		return defaultBatchSize
	}
	return uint(cfg.BatchSize)
}

func flushInterval(cfg config.InfluxDBConfig) time.Duration {
	if cfg.FlushInterval <= 0 {
		return defaultFlushInterval
	}
	return time.Duration(cfg.FlushInterval) * time.Second
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	healthy, err := influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server reports unhealthy")
	}
	return nil
}

// forwardErrors drains the write API's error channel until the client is
// closed.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		hook := c.onError
		c.mu.RUnlock()
		if hook != nil {
			hook(err)
		}
	}
}

// SetOnError registers the hook for asynchronous write failures.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Close flushes buffered points and releases the client. Later writes are
// dropped.
func (c *Client) Close() error {
	if c.influx == nil || !c.open.Swap(false) {
		return nil
	}
	c.writeAPI.Flush()
	c.influx.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open. Use HealthCheck to
// test the server itself.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}
