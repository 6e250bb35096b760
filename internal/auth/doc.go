// Package auth provides rider account authentication for Brolly Core.
//
// It implements:
//   - Argon2id password hashing (OWASP recommendation)
//   - HS256 JWT access tokens carrying the rider's user ID
//   - SQLite-backed user persistence
//
// Authentication is deliberately separate from the rental session key: the
// JWT identifies who a rider is, while the session key (internal/rental)
// identifies which lease they currently hold. Losing one does not
// compromise the other.
package auth
