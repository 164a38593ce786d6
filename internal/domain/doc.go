// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (program.go, note.go, events.go, store.go, media.go)
// hold shared types and cross-cutting interfaces. No implementation code, just contracts.
package domain
