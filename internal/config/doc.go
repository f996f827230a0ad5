// Package config loads msgsync configuration from YAML with environment
// variable expansion and human-readable duration parsing.
package config
