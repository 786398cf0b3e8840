// Package panel serves the browser lighting console as an embedded asset.
//
// The console is a single page (web/index.html plus its script and
// stylesheet) that drives the engine through the /api/v1 REST routes and
// follows engine.status / engine.run over the WebSocket. It is embedded in
// the binary with go:embed, so a deployment needs no extra files.
//
// During console development a directory can be served instead of the
// embedded copy; unknown paths fall back to index.html either way.
package panel
