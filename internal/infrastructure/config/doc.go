// Package config handles loading and validating device manager configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (DEVMGR_*)
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables rather than the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Manager.AttributesFile)
package config
