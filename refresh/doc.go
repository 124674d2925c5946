// Package refresh implements single-use refresh tokens with rotation and
// replay detection.
//
// Every token names a server-side record. Rotation revokes the old
// record, inserts the new one, and links them through a replaced-by
// pointer, all in one storage transaction; presenting a rotated token
// again fails as revoked. Records form a linear chain, each replaced by
// at most one successor, which an operator can walk to reconstruct
// how a stolen token propagated.
package refresh
