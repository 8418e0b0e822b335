// Package flows contains the orchestrators behind every Engine operation.
//
// Each Run function takes a typed dependency struct of plain functions and stores, so a
// flow can be tested with fakes and the Engine stays a thin wiring layer. Flows choose
// which error the caller sees; the reason for a failure only ever reaches audit
// metadata and the warn log.
//
// # Architecture boundaries
//
// Flows coordinate the code store, identity lookups, token issuing, audit and metrics.
// They never own those resources and never import the root package.
package flows
