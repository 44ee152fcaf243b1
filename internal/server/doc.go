// Package server provides the HTTP API for observing and submitting pool
// requests.
//
// It serves:
//
//   - Monitor page: the embedded HTML page at "/"
//   - REST API: pool statistics at "/api/stats", request records at
//     "/api/requests" and "/api/requests/{id}", submission via POST
//     "/api/requests"
//   - Server-Sent Events: record updates at "/api/sse"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
