// Package logging provides structured logging for the device manager.
//
// It wraps log/slog with JSON or text output, level filtering and the
// default fields service=devmgr and version on every record.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	mgrLog := logger.Component("devmgr")
//	mgrLog.Info("device host attached", "host_id", 1)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
