package influxx

import (
	"context"
	"errors"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"storefront-pipeline/shared/config"
)

type Client struct {
	client influxdb2.Client
	org    string
	bucket string
}

// Configured reports whether every INFLUX_* setting needed by New is present.
func Configured(cfg config.Config) bool {
	return cfg.InfluxURL != "" && cfg.InfluxToken != "" && cfg.InfluxOrg != "" && cfg.InfluxBucket != ""
}

func New(cfg config.Config) (*Client, error) {
	if !Configured(cfg) {
		return nil, errors.New("INFLUX_URL/INFLUX_TOKEN/INFLUX_ORG/INFLUX_BUCKET are required")
	}
	timeoutSec := cfg.InfluxTimeoutMS / 1000
	if timeoutSec < 1 {
		timeoutSec = 1
	}
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(timeoutSec))
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	return &Client{client: client, org: cfg.InfluxOrg, bucket: cfg.InfluxBucket}, nil
}

// WritePoint is blocking. Points with identical measurement, tags and timestamp overwrite each other,
// which makes replays of the same event harmless.
func (c *Client) WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if c == nil || c.client == nil {
		return errors.New("influx client not initialized")
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	p := influxdb2.NewPoint(measurement, tags, fields, ts)
	writeAPI := c.client.WriteAPIBlocking(c.org, c.bucket)
	return writeAPI.WritePoint(ctx, p)
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Close()
}
