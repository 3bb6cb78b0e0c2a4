// Package influxdb records server telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring. The
// Prometheus endpoint exposes current counters; InfluxDB keeps the
// per-event history:
//
//	http_request   one point per HTTP request (method, route, status)
//	bulk_load      one point per loaded file (format, outcome)
//	store_change   one point per committed store change (kind)
//	search         one point per /search request
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRequest("GET", "/query", 200, elapsed)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes after Close are
// silently dropped.
package influxdb
