// Package influxdb provides InfluxDB connectivity for show metrics.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and health monitoring.
//
// # Purpose
//
// The show node records two kinds of time series:
//   - show_render: compositor statistics written every few hundred ticks
//   - show_cue: one point per cue entry, for show logs and dashboards
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCueEntry("chase", "step-2")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes never block the caller; batch errors arrive via SetOnError.
package influxdb
