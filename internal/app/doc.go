// Package app composes the store rating service.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── authz/              # Identity and the per-operation role table
//	├── domain/             # Domain models (user, store, rating)
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # UserStore, StoreStore, RatingStore
//	│   ├── memory/         # In-memory implementation for tests and local runs
//	│   └── postgres/       # PostgreSQL implementation (sqlx + lib/pq)
//	├── services/           # accounts, auth, ratings, stores
//	├── validation/         # Declarative input schemas
//	├── httpapi/            # HTTP handlers and routing
//	├── runtime/            # Process wiring: config, database, HTTP server
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/storerating/
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app (composition)
//	                               │
//	                               ├──► services ──► storage ──► domain
//	                               │
//	                               └──► httpapi ──► authz, middleware
//
// Handlers never touch storage directly; every read and write goes through
// a service, and every protected route is gated by authz before dispatch.
package app
