// Package password verifies stored password hashes and one-time codes.
//
// Two hash encodings are accepted:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//	$2a$<cost>$<salt+hash>   (bcrypt, also $2b$ and $2y$)
//
// New hashes are always argon2id. [Verifier.NeedsRehash] reports when a stored
// hash should be replaced on the next successful login.
//
// The package never stores or logs passwords.
package password
