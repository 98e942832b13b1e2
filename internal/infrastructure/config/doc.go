// Package config handles loading and validating LibreTap engine configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with LIBRETAP_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The credentials file holds tag keys and should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Engine.StartPolicy)
package config
