// Package dashboard provides the embedded monitor page for the httppool API
// server.
//
// The page lists request records and follows their progress over the
// server's SSE stream. It is embedded at compile time so the CLI ships as a
// single binary.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the monitor page.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Monitor page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
