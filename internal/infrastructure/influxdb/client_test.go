package influxdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/influxdb"
)

// testConfig matches the local dev InfluxDB from docker-compose.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "cyncbridge-dev-token",
		Org:           "cyncbridge",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the dev InfluxDB or skips the test when no
// server is listening.
func connectOrSkip(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		t.Skipf("InfluxDB not available, skipping: %v", err)
	}
	return client
}

// collectWriteErrors registers an error callback and returns a getter.
func collectWriteErrors(client *influxdb.Client) func() error {
	var mu sync.Mutex
	var writeErr error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})
	return func() error {
		mu.Lock()
		defer mu.Unlock()
		return writeErr
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_UnreachableServer(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := influxdb.Connect(ctx, cfg); err == nil {
		t.Fatal("Connect() should fail for an unreachable server")
	}
}

func TestConnect_RejectsOversizedBatchSettings(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 1_000_000
	if _, err := influxdb.Connect(context.Background(), cfg); err == nil {
		t.Error("Connect() should reject an oversized batch_size")
	}

	cfg = testConfig()
	cfg.FlushInterval = 100_000
	if _, err := influxdb.Connect(context.Background(), cfg); err == nil {
		t.Error("Connect() should reject an oversized flush_interval")
	}
}

func TestConnect_DefaultsNonPositiveBatchSettings(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client := connectOrSkip(t, cfg)
	defer client.Close() //nolint:errcheck // test cleanup

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect() with defaulted batch settings")
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	defer client.Close() //nolint:errcheck // test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := client.HealthCheck(cancelled); err == nil {
		t.Error("HealthCheck() should fail with a cancelled context")
	}
}

func TestWriteDeviceMetric(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	defer client.Close() //nolint:errcheck // test cleanup

	errOf := collectWriteErrors(client)

	client.WriteDeviceMetric("26", "power", 1.0)
	client.WriteDeviceMetric("26", "brightness_pct", 75.0)
	client.WriteDeviceMetric("26", "color_temp_k", 2700.0)
	client.Flush()

	time.Sleep(100 * time.Millisecond)
	if err := errOf(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestWritePoint(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	defer client.Close() //nolint:errcheck // test cleanup

	errOf := collectWriteErrors(client)

	client.WritePoint("bridge_stats",
		map[string]string{"source": "test"},
		map[string]interface{}{"pool_size": 3, "pending_acks": 0})

	client.WritePointWithTime("bridge_stats",
		map[string]string{"source": "test-backfill"},
		map[string]interface{}{"pool_size": 2},
		time.Now().Add(-time.Hour))

	client.Flush()

	time.Sleep(100 * time.Millisecond)
	if err := errOf(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestClose_DisconnectsAndFlushes(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	client.WriteDeviceMetric("26", "power", 0.0)
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	// Flush after Close must be a no-op, not a panic.
	client.Flush()
}
