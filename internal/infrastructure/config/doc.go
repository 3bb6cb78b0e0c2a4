// Package config handles loading and validating kos-server configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (KOS_*)
//   - Validation of required fields
//   - Default value handling
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
