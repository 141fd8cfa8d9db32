// Package main (cmd/httpserver) serves the runner registration API.
//
// Every request to POST /api/register authorizes the caller's admin token
// against the repository, configures one copy of the runner installation per
// requested name and answers with the extracted credential bundles. Bundles
// can additionally be written to secret stores with --secret-store.
//
// Example usage:
//
//	httpserver \
//	  --listen-addr 0.0.0.0:8080 \
//	  --runner-dir /opt/actions-runner \
//	  --secret-store 'file:///var/lib/runners?recipient=age1...' \
//	  --secret-store 'vault://vault.internal:8200/secret/runners' \
//	  --log-json
//
// The server shuts down gracefully on SIGINT/SIGTERM and exposes /livez,
// /readyz, /drain and /undrain for orchestration.
package main
