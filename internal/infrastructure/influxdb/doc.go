// Package influxdb records device manager lifecycle history as time series.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API.
// Two measurements are written:
//
//	devmgr_lifecycle  tags: kind, host, device_id   fields: ok, failed
//	devmgr_power      tags: state                   fields: ok, failed
//
// The event package's InfluxSink is the only writer.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Warn("influx write failed", "error", err) })
//
// Write errors are delivered asynchronously through SetOnError. Connection
// and health check errors are returned directly.
package influxdb
