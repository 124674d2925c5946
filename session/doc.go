// Package session maintains the per-user device session registry: the
// list a signed-in user sees on their "active sessions" screen, with
// revoke-one and revoke-everywhere controls.
//
// Full bearer values never leave this package. Listings carry only the
// last eight characters of each session token, enough for a user to
// correlate against their own device, useless to anyone else.
package session
