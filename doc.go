// Package sessionx is the client-side session layer of PrintEasy.
//
// A Gateway logs users in against the identity API, keeps the token pair in
// a Store, exposes the current Identity through State and refreshes the
// access token shortly before it expires. Gateway.Client returns an
// *http.Client whose Transport attaches the bearer token and, on a 401,
// performs one shared refresh for all concurrently failing requests before
// replaying them.
//
// Tokens are decoded without signature verification. The identity API
// verifies every token it receives; this package only reads claims to decide
// when to refresh and who the current user is, and relies on HTTPS for
// transport integrity.
package sessionx
