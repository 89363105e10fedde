// Package influxdb is the optional device-state history sink: when
// enabled in configuration, every power/brightness/color transition the
// registry observes is written as a timestamped point, so an operator
// can graph a lamp's day in Grafana next to the rest of the house.
//
// Writes are non-blocking and batched by the underlying client
// (batch_size / flush_interval in config.yaml); async write errors
// surface through the SetOnError callback rather than the caller. The
// status hot path never waits on InfluxDB.
package influxdb
