// Package config loads and watches the agent configuration.
//
// Two loaders produce the same validated Config:
//   - Load(path) parses a YAML file (config.example.yaml documents the keys)
//   - FromEnv() builds the config from environment variables alone, for
//     container deployments that ship no file
//
// Secrets are never stored in the file: the dashboard credentials and the
// destination bearer token are referenced by *_env keys and resolved from
// the environment at use time via Email(), Password() and Token().
//
// Load applies defaults (5s scrape interval, 60s iteration timeout, 3
// consecutive failures before forced relogin, 10s publish timeout), then
// validates required fields; a missing dashboard URL, credential, or
// destination token is a startup-fatal error.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create
// pattern used by atomic-save editors by re-adding the watch after a rename.
package config
