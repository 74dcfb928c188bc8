// Package attempt tracks failed logins and decides when to refuse them.
//
// Two independent mechanisms live here:
//
//   - [Guard] throttles a (credential identifier, origin IP) pair with a
//     fixed-length window: the first failure opens the window, further failures
//     accumulate inside it, and a success clears the record.
//   - [Lockout] counts failures against the principal itself and locks the
//     account for a configured duration once a threshold is reached.
//
// Login paths use [Guard.Reserve] and [Lockout.Reserve], which count the
// attempt before the credential is compared. A burst of concurrent guesses
// therefore gets no further than the limits allow.
//
// [Guard.DetectAnomalousOrigin] additionally remembers which origin IPs a
// principal has logged in from. It is a signal only and never refuses a login.
//
// # What this package must NOT do
//
//   - Verify credentials or decide the user-facing error. Callers combine the
//     results of Guard and Lockout into their own error taxonomy.
//   - Sweep state from request paths. Expired windows, origins and locks are
//     removed by the explicit Sweep and UnlockExpired maintenance calls.
package attempt
