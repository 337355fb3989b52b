// Package health grades the monitor's components for /health.
//
// Each check asks every component.Discoverable for its own report and
// grades it:
//
//   - unhealthy: not running
//   - degraded: running, but with a warning (beacons overdue on the live
//     feed) or with errors since the previous check (dropped beacons)
//   - healthy: running quietly
//
// The monitor as a whole takes the worst grade of its components. Errors
// copied into the response are scrubbed of broker URLs, file paths, IP
// addresses, ports and credentials.
//
//	monitor := health.NewMonitor(health.WithLogger(logger))
//	status := monitor.Check("thmmonitor", session, server)
//	if status.Level == health.LevelUnhealthy {
//		w.WriteHeader(http.StatusServiceUnavailable)
//	}
package health
