// Package config loads the service configuration from an optional YAML file
// and the environment.
//
// Sections:
//   - server: HTTP port, CORS origins, WS status interval, admin auth
//   - cache: cache file path, soft/hard TTL in minutes, check interval
//   - scraper: list URL, concurrency, timeout, user agent, retry policy
//   - notify: webhook targets for refresh failure/recovery, cooldown
//   - log: level
//
// Load(path) applies defaults, unmarshals the file (if path is non-empty),
// applies environment overrides (CACHE_FILE, CACHE_TTL_MINUTES, ...) and
// validates. Watch reloads the file on change.
package config
