// Package password implements credential hashing and verification with
// Argon2id defaults.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification reads parameters out of the stored string, so tightening
// the configured costs never invalidates existing hashes; [Argon2.NeedsRehash]
// reports when a stored hash should be upgraded on the next successful
// sign-in.
//
// The same hasher protects two-factor backup codes, which are persisted
// only as hashes.
package password
