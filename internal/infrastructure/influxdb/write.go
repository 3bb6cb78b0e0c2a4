package influxdb

import (
	"path/filepath"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementRequest  = "http_request"
	measurementBulkLoad = "bulk_load"
	measurementChange   = "store_change"
	measurementSearch   = "search"
)

// WriteRequest records one served HTTP request. route is the matched
// route pattern, not the raw path, to keep tag cardinality bounded.
func (c *Client) WriteRequest(method, route string, status int, elapsed time.Duration) {
	c.WritePoint(measurementRequest,
		map[string]string{
			"method": method,
			"route":  route,
			"status": strconv.Itoa(status),
		},
		map[string]interface{}{
			"duration_ms": float64(elapsed.Microseconds()) / 1000,
		},
	)
}

// WriteBulkLoad records one file of a bulk load. Failed files are tagged
// with outcome "error" and carry the quads committed before the failure.
func (c *Client) WriteBulkLoad(path string, quads int64, elapsed time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	fields := map[string]interface{}{
		"quads":       quads,
		"duration_ms": elapsed.Milliseconds(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		fields["quads_per_second"] = float64(quads) / secs
	}
	c.WritePoint(measurementBulkLoad,
		map[string]string{
			"file":    filepath.Base(path),
			"outcome": outcome,
		},
		fields,
	)
}

// WriteChange records one committed store change.
func (c *Client) WriteChange(kind string, quads int64) {
	c.WritePoint(measurementChange,
		map[string]string{"kind": kind},
		map[string]interface{}{"quads": quads},
	)
}

// WriteSearch records one /search request and its total match count.
func (c *Client) WriteSearch(matches uint64, elapsed time.Duration) {
	c.WritePoint(measurementSearch, nil,
		map[string]interface{}{
			"matches":     matches,
			"duration_ms": float64(elapsed.Microseconds()) / 1000,
		},
	)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
