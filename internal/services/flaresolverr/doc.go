// Package flaresolverr obtains Cloudflare clearance cookies through a
// FlareSolverr instance for trackers that sit behind a challenge page.
//
// Solved sessions are cached per host and reused until they age out, so one
// browser challenge covers a whole upload run. The solve path is guarded by
// a circuit breaker: when FlareSolverr itself is down, uploads fail fast
// instead of stacking minute-long challenge timeouts.
package flaresolverr
