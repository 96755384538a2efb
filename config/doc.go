// Package config loads worker configuration from a YAML file and environment
// variables.
package config
