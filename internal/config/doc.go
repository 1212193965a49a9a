// Package config provides configuration loading and validation for the
// streaming speech service. It handles YAML-based configuration with struct
// validation covering the transports, the processing units, the unit pool,
// and the recognition backend client.
package config
