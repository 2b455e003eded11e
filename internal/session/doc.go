// Package session owns the authenticated browser session against the
// dashboard. Manager.EnsureReady guarantees a loaded, logged-in page:
// sessions confirmed live within the freshness window are returned as-is,
// stale ones get a lightweight liveness probe, and missing or expired ones
// trigger a full login through the identity provider's form.
//
// The manager owns the browser resource exclusively and closes it before
// creating a replacement. It never retries internally; the scheduler's
// failure policy governs retry cadence via the ErrAuthenticationFailed and
// ErrSessionExpired sentinels.
package session
