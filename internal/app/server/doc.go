// Package server composes and runs the passkeys process boundary.
//
// It wires the SQLite store, the WebAuthn verifier, the ceremony orchestrator
// and the HTTP API into a single server so authentication decisions are made
// from one source of truth.
package server
