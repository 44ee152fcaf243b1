// Package wire implements the HTTP/1.1 framing used by httppool request states.
//
// This package is internal to httppool. It renders request heads, parses
// response heads incrementally as bytes trickle in from a non-blocking
// connection, and decodes response bodies framed by Content-Length, chunked
// transfer coding, or connection close.
//
// The main components are:
//
//   - [RenderRequest]: serializes a request line, headers and body
//   - [ResponseParser]: incremental status line and header parser
//   - [BodyDecoder]: per-framing body decoders created by [NewBodyDecoder]
//
// Header fields cross the package boundary as [Field] slices so the public
// httppool.Header type stays decoupled from the wire representation.
package wire
