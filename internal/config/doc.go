// Package config loads the TradePilot daemon configuration from a JSON file,
// fills defaults from struct tags and validates the result. Secrets never live
// in the file: wallet keys and exchange API credentials are referenced by the
// name of the environment variable that holds them.
package config
