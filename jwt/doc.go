// Package jwt manages issuance and verification of the two token shapes
// used by authkit: short-lived access tokens carrying identity claims,
// and refresh tokens bound to a server-side rotation record.
//
// All parse failures collapse to [ErrTokenInvalid] so callers cannot be
// used as a signature oracle.
package jwt
