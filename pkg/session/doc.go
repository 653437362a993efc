// Package session identifies browsers and keeps per-session state.
//
// A Signer issues the session cookie. Its value is an HS256 JWT whose jti is
// a random session id:
//
//	signer, err := session.NewSigner(secret)
//	sess, err := signer.Issue(r)  // new session when no cookie is present
//	signer.Attach(w, sess)        // writes the cookie for new sessions only
//
// A cookie that fails verification is never replaced silently; Middleware
// answers it with 400 "Bad Session".
//
// # Session State
//
// Store is a pluggable backend for per-session bytes. MemoryStore suits a
// single process; SQLStore works on any database/sql driver:
//
//	store := session.NewSQLStore(db, session.WithSQLDialect(session.DialectSQLite))
//	values := session.NewValues(store, 24*time.Hour)
//	values.Set(ctx, ev.SessionID, "cart", cart)
package session
