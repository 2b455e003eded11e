// Package agent contains the scheduler: the timing-compensated,
// cancellable loop that ties session readiness, extraction, and publishing
// together. Failures are caught at the iteration boundary, logged with
// stage and metric context, and counted toward the consecutive-failure
// threshold that forces a session teardown-and-recreate; the process keeps
// running until externally stopped.
package agent
