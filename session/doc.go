// Package session manages long-lived refresh sessions bound to a principal
// and a device.
//
// A refresh secret is 256 bits from crypto/rand, encoded base64url without
// padding. It is returned to the caller exactly once; repositories only ever
// see its SHA-256 hash.
//
// # Device cap
//
// At most [Config.MaxDevices] sessions per principal are active at once. The
// cap is enforced inside [Repository.Issue], which must count, evict and
// insert as one atomic step per principal. Eviction revokes the active
// sessions with the earliest IssuedAt, ties broken by ID.
//
// # What this package must NOT do
//
//   - Persist plaintext secrets.
//   - Rotate the refresh secret on use. Refresh mints a new access token and
//     leaves the session secret unchanged.
//   - Purge on request paths. [Store.Purge] is a maintenance call.
package session
