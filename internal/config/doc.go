// Package config loads the escrowd JSON configuration, fills defaults,
// resolves secrets from the environment and validates driver selections.
package config
