// Package auth provides authentication and authorisation for FitTrack.
//
// It covers:
//   - bcrypt password hashing behind a bounded worker budget
//   - HS256 access tokens (self-contained, not revocable) and refresh
//     tokens (signed and backed by a store row, revoked by deleting it)
//   - refresh-token rotation, logout, logout-all and a periodic sweep of
//     expired rows
//   - a static role→permission table (manager holds the wildcard) plus
//     coarse route-level role checks
//
// Persistence is behind the Store interface; adapters live in package main.
package auth
