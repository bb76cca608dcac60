// Package internal contains the core implementation packages for hotswap.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the hotswap CLI tool.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - identity: Build fingerprints over version, target, transform and plugins
//   - cache: Persistent transform cache keyed by fingerprint
//   - engine: The bundling engine contract and the passthrough engine
//   - bundler: Pool of engine sessions shared by connected clients
//   - hmr: Hot update wire protocol and patch documents
//   - server: HTTP bundle endpoints and the hot update websocket
//   - hmrclient: Client runtime with hot contexts and an outbox
//   - watcher: File system monitoring with debouncing
//   - config, logging, errors, reporting, version: Ambient support
//
// # Inter-Package Communication
//
// Packages communicate through small interfaces:
//
//   - Engine sessions report update batches through engine.Callbacks
//   - Bundler instances fan batches out to bundler.Listener clients
//   - Server clients translate batches into hmr messages
//   - The hmrclient runtime applies those messages to its module registry
//
// # Testing Strategy
//
// Each package has unit tests built on testify. Property tests using gopter
// run under the "property" build tag. The hmrclient transport tests drive a
// real server, bundler pool and passthrough engine end to end.
package internal
