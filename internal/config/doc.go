// Package config provides configuration management for the subsystem host.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for development use.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	orch := orchestrator.New(cfg.OrchestratorConfig())
package config
