// Package api implements the HTTP REST API and WebSocket server for Gray Logic DMX.
//
// This package provides:
//   - REST endpoints to list, check, start and stop scripts
//   - Run history queries backed by the engine's repository
//   - A WebSocket hub relaying engine.status and engine.run events
//   - Optional HS256 bearer authentication with ticket-based WebSocket auth
//
// # Routes
//
// All routes live under /api/v1:
//
//	GET  /health            component health (no auth)
//	GET  /metrics           runtime and engine metrics (no auth)
//	GET  /ws                WebSocket (ticket auth)
//	POST /auth/ws-ticket    single-use WebSocket ticket
//	GET  /scripts           list .dmx scripts
//	POST /scripts/check     compile without running
//	GET  /engine            engine status
//	POST /engine/start      start a script
//	POST /engine/stop       stop the running script
//	GET  /runs              recent runs
//	GET  /runs/{id}         one run
//
// The browser console from package panel is served at /panel/ (no auth;
// its API calls carry the operator's token).
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Security
//
// Authentication is enabled by setting security.jwt.secret. Tokens are
// minted with IssueToken (see the token subcommand of dmxcore).
package api
