// Package httpserver wraps an http.Server with the endpoints every node
// process exposes.
//
// A BaseServer mounts one or more RouteRegistrars (services.Node is one)
// and adds:
//
//   - /livez and /readyz health checks; registrars that implement
//     HealthReporter add their own fields to /livez
//   - /drain and /undrain to take the node out of a load balancer
//   - request IDs, panic recovery and structured request logging
//   - optional CORS for browser dashboards
//   - optional pprof under /debug
//
// Usage:
//
//	srv, err := httpserver.New(&httpserver.Config{
//		ListenAddr:               ":8080",
//		Log:                      logger,
//		GracefulShutdownDuration: 10 * time.Second,
//	}, node)
//	if err != nil {
//		return err
//	}
//	return srv.Serve(ctx) // drains and stops when ctx ends
package httpserver
