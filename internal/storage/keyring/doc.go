// Package keyring derives the payload cipher of a data directory.
//
// The master key comes from a raw key or from a passphrase stretched with
// Argon2id. The payload key and a short key-check value are derived from
// it with HKDF. A KEYRING file in the data directory records the
// algorithm, the salt and the check value, so that a reopen with the wrong
// key fails at open time instead of on the first read.
package keyring
