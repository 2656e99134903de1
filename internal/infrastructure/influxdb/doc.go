// Package influxdb mirrors node telemetry into InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. The mirror is
// optional: the hub remains the system of record, and a node without a
// reachable InfluxDB keeps publishing telemetry as normal.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSensorSample("node-1", 21, 340, time.Now())
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
