// Package api provides the HTTP REST API and WebSocket server for the playout
// daemon.
//
// All routes live under /api/v1:
//
//	GET  /health
//	GET  /rundowns, /rundowns/{id}, /rundowns/{id}/parts, /rundowns/{id}/snapshot, /rundowns/{id}/asrun
//	POST /rundowns/{id}/activate|deactivate|reset|take|next|move-next|hold|hold/cancel
//	POST /rundowns/{id}/adlibs/{adlibId}/start
//	POST /rundowns/{id}/part-instances/{piid}/pieces/{pieceId}/take-now|stop
//	POST /rundowns/{id}/part-instances/{piid}/layers/{layer}/stop
//	POST /rundowns/{id}/callbacks
//	PUT|DELETE /rundowns/{id}, segments, parts, pieces and adlibs below it
//	GET  /ws
//
// When security.auth_enabled is set, requests carry an HS256 bearer token.
// Reads need playout:read, playout actions playout:operate and content
// changes rundown:ingest. The WebSocket accepts the token as a query
// parameter because browsers cannot set headers on the upgrade request.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
