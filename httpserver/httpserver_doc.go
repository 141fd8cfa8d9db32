/*
Package httpserver runs the HTTP server of the runner provisioning backend.

API handlers are mounted through RouteRegistrar; every route, health
endpoints included, goes through the request logging middleware.

	server, err := httpserver.New(cfg, runnerhandler.NewHandler(registrar, logger))
	server.RunInBackground()
	...
	server.Shutdown()

Endpoints served in addition to the handlers:

  - GET /livez - Liveness check
  - GET /readyz - Readiness check, 503 while draining
  - GET /drain - Mark server as not ready and wait for the drain duration
  - GET /undrain - Mark server as ready
  - /debug/pprof/* - Profiling, only with EnablePprof
*/
package httpserver
