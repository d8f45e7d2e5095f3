// Package auth resolves the caller of a request into a typed Identity.
//
// Session credentials are HS256 JWTs issued by the web application and carried
// in the session_token cookie or an Authorization: Bearer header. The payload
// holds the user id, email, account type, business id and the caller's team
// memberships with their permissions:
//
//	verifier := auth.NewHS256Verifier(secret, 7*24*time.Hour)
//	resolver := auth.NewResolver(verifier, auth.DefaultCookieName)
//	identity, err := resolver.Resolve(r)
//	if errors.Is(err, auth.ErrUnauthenticated) {
//		// 401
//	}
//
// Claims are trusted for the lifetime of the request; live permissions are
// not re-fetched.
package auth
