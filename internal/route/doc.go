// Package route selects the egress path for outbound HTTP requests. The
// dashboard and the destination API live on topologically distinct
// networks: the dashboard is on the open internet, the destination is only
// reachable through a local SOCKS5 endpoint onto a private overlay. The
// Router makes that choice explicitly per request from an ordered rule set
// and never consults process-wide proxy environment variables.
package route
