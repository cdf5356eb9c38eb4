// Package config provides ambient runtime configuration for canopy.
//
// # Overview
//
// The config package uses Viper to load configuration from a YAML file and
// environment variables. It provides a type-safe configuration structure with
// validation, default values, and automatic file creation.
//
// # Configuration File
//
// The configuration is stored at ~/.canopy/config.yaml and is automatically
// created with sensible defaults on first use. The file structure mirrors
// the Go structs defined in this package.
//
// # Environment Variables
//
// All configuration values can be overridden using environment variables
// with the CANOPY_ prefix. Nested fields are separated by underscores.
//
// Examples:
//   - CANOPY_LOGGING_LEVEL=debug
//   - CANOPY_MONITOR_PORT=1777
//   - CANOPY_TICK_YIELD_INTERVAL=5ms
//
// # Usage Example
//
//	package main
//
//	import (
//	    "log"
//	    "github.com/normanking/canopy/internal/config"
//	)
//
//	func main() {
//	    cfg, err := config.Load()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := cfg.Validate(); err != nil {
//	        log.Fatal(err)
//	    }
//	    if cfg.Monitor.Enabled {
//	        log.Printf("monitor listening on %s:%d", cfg.Monitor.BindAddr, cfg.Monitor.Port)
//	    }
//	}
//
// # What config does NOT control
//
// Tree topology, node wiring, port bindings, and blackboard remappings come
// exclusively from BTCPP-4 XML loaded through pkg/factory. config only
// carries the ambient concerns around that core: logging, the monitor port,
// and tick pacing.
//
// # Path Expansion
//
// The package automatically expands ~ to the user's home directory in path
// configurations, making config files portable across systems.
//
// # Thread Safety
//
// Config instances are not thread-safe. If you need concurrent access, wrap
// the config in a sync.RWMutex or create separate instances.
package config
