// Package transport provides the TCP/TLS connection used by httppool slots.
//
// This package is internal to httppool. A [Conn] exposes a poll-style API
// (connect, poll, write, read whatever has arrived) on top of Go's blocking
// net.Conn by moving each blocking call onto a goroutine and buffering its
// outcome. A [Dialer] shares a token-bucket limiter between the connections
// it creates so bursts of new slots do not stampede a server.
package transport
