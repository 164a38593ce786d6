// Package app provides the application service layer.
//
// Orchestrates use cases: running-order edits, notes, the active-session pointer,
// media uploads, export/import and the admin password. Sits between HTTP handlers
// and the domain store. Every successful mutation publishes a change event.
package app
