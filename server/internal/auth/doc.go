// Package auth provides authentication middleware for the admin routes.
//
// APIKey(mode, header, key) returns HTTP middleware that validates the API key
// from the named request header. With mode "none" every request passes. With
// mode "apikey" and no key configured every request is rejected, so a missing
// secret never opens the admin surface.
package auth
