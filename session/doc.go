// Package session houses concrete implementations of core.SessionService.
// The interface itself (and the Session struct) live in the core package to
// centralize domain contracts. Keeping only implementations here prevents
// higher level packages (agents, runner) from depending on concrete storage.
//
// Two backends ship with the module: InMemoryService for tests and ephemeral
// demo servers, and SQLiteService for durable single-node deployments. Add
// additional backends (Redis, Postgres, Firestore, etc.) without changing any
// calling code – only the wiring layer needs to decide which implementation
// to instantiate.
package session
