// Package config loads and validates the intibridge configuration.
//
// Configuration is layered: hardcoded defaults, then a YAML file, then
// environment variable overrides of the form INTIBRIDGE_SECTION_KEY
// (for example INTIBRIDGE_INTIFACE_URL or INTIBRIDGE_SERVER_PORT).
//
// The resulting Config is injected into components at construction and
// never re-read at runtime.
package config
