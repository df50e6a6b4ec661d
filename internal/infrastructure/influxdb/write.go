package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the show node.
const (
	// MeasurementRender holds compositor statistics (tick time, frames, active scenes).
	MeasurementRender = "show_render"

	// MeasurementCue holds one point per cue entry.
	MeasurementCue = "show_cue"
)

// WritePoint writes a point with full control over tags and fields.
//
// The write is non-blocking; points are batched and sent asynchronously,
// so it is safe to call from the render loop.
//
// Example:
//
//	client.WritePoint(influxdb.MeasurementRender,
//	    map[string]string{},
//	    map[string]interface{}{"tick_avg_ms": 0.4, "active_scenes": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

// WriteCueEntry records that scene entered cue.
//
// Scene is a tag so a dashboard can chart cue changes per scene; the cue
// name is a field to keep series cardinality bounded.
func (c *Client) WriteCueEntry(scene, cue string) {
	c.WritePoint(MeasurementCue,
		map[string]string{"scene": scene},
		map[string]interface{}{"cue": cue, "count": 1},
	)
}
