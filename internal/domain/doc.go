// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (envelope.go, target.go, identity.go, errors.go) hold the wire envelope,
// delivery targets, and the contracts for external collaborators (credential validation, cross-instance relay).
// No implementation code - just contracts. Keeps broadcast, client, and adapters free of circular imports.
package domain
