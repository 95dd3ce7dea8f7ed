// Package config loads, normalizes, and validates photoner configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks such as PHOTONER_NTFY_TOPIC. The Config type holds the
// population roots, the phase calendar, and the enhancement profiles the tick
// runner needs, so every tick can re-read one file and see operator edits.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical extensions, and clear validation errors.
package config
