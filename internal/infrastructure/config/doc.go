// Package config handles loading and validating the playout core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PLAYOUT_* environment variables
//   - Validation of required fields, reporting every problem in one error
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret is required whenever API authentication is enabled
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Studio.Name)
package config
