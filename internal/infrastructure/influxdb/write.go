package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric records one numeric reading for a device under the
// device_metrics measurement, tagged by device id and metric name.
// Non-blocking; the point joins the current batch. Dropped silently
// when disconnected, since history is a best-effort sink.
//
//	client.WriteDeviceMetric("26", "brightness_pct", 75)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		"device_metrics",
		map[string]string{"device_id": deviceID, "measurement": measurement},
		map[string]interface{}{"value": value},
		time.Now(),
	))
}

// WritePoint records an arbitrary measurement with caller-chosen tags
// (keep cardinality low) and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// WritePointWithTime is WritePoint with an explicit timestamp, for
// backfilling readings that weren't recorded live.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
