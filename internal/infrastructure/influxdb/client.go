package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/config"
)

// Defaults applied when the influxdb section leaves a value unset.
const (
	DefaultOrg    = "graylogic"
	DefaultBucket = "dmx"

	// ServiceTag is added to every point.
	ServiceTag  = "service"
	ServiceName = "graylogic-dmx"

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

// Client records DMX engine telemetry in InfluxDB.
//
// Run and engine points are written through the non-blocking write API.
// Write failures arrive asynchronously; they are counted, passed to the
// SetOnError callback, and reported by the next HealthCheck.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	org      string
	bucket   string

	mu      sync.RWMutex
	open    bool
	onError func(err error)

	// Write failures since the last HealthCheck, and the newest of them.
	failedWrites atomic.Int64
	lastWriteErr atomic.Pointer[error]
}

// Connect opens a client for the configured bucket and pings the server.
//
// Org and bucket fall back to DefaultOrg and DefaultBucket. Batch size and
// flush interval fall back to 100 points and 10 seconds.
//
// Parameters:
//   - ctx: Bounds the initial ping (further capped at 10 seconds)
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the ping failure
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	org, bucket := cfg.Org, cfg.Bucket
	if org == "" {
		org = DefaultOrg
	}
	if bucket == "" {
		bucket = DefaultBucket
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
		org:      org,
		bucket:   bucket,
		open:     true,
	}
	go c.collectWriteErrors(c.writeAPI.Errors())
	return c, nil
}

// writeOptions builds batching and default-tag options from cfg.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	// #nosec G115 -- both values are positive here
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds())).
		AddDefaultTag(ServiceTag, ServiceName)
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

func (c *Client) collectWriteErrors(errs <-chan error) {
	for err := range errs {
		c.lastWriteErr.Store(&err)
		c.failedWrites.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// Bucket returns the bucket points are written to.
func (c *Client) Bucket() string {
	return c.bucket
}

// Org returns the organisation that owns the bucket.
func (c *Client) Org() string {
	return c.org
}

// Close flushes pending run points and releases the client.
// Writes after Close are dropped.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	if wasOpen {
		c.writeAPI.Flush()
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server and reports writes that failed since the
// previous check.
//
// Returns:
//   - error: ErrNotConnected, a ping failure, or ErrWriteFailed with the
//     newest write error; nil if healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(checkCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}

	if n := c.failedWrites.Swap(0); n > 0 {
		var last error
		if p := c.lastWriteErr.Load(); p != nil {
			last = *p
		}
		return fmt.Errorf("%w: %d since last check, newest: %w", ErrWriteFailed, n, last)
	}
	return nil
}

// IsConnected reports whether the client is open. HealthCheck does an active ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// SetOnError registers a callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush pushes buffered points to the server. No-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}
