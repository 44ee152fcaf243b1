// Package store keeps request records and fans updates out to subscribers.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: Bounded in-memory implementation of Store with pub/sub
//   - [Record]: Storage representation of a request's progress or outcome
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the request path).
package store
