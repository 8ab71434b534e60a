// Package model provides the shared data model for Reflex: tenant
// domain configurations (domains, triggers, field definitions), derived
// proxies, dependency-graph nodes, and the journaled event and
// field-operation records.
//
// This package contains type definitions and validation only. All other
// internal packages import model; model imports only expr, merge, and
// target. This keeps it the foundational layer with no cycles.
package model
