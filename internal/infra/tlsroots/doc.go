// Package tlsroots builds the TLS configuration sessionkeep uses to reach
// the identity endpoint.
//
//   - roots.go: system roots plus custom CA bundles
//   - keypair.go: an optional client certificate, reloaded when its files change
//
// Reloading lets a sidecar rotate short-lived client certificates under a
// long-running REPL without restarting it.
package tlsroots
