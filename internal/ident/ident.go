// Package ident produces the opaque identifiers embedded in tracking URLs.
package ident

import (
	"crypto/rand"
	"encoding/hex"
)

// Size is the number of random bytes in an identifier (128 bits).
const Size = 16

// Generator returns a new unique identifier on every call.
type Generator func() string

// Generate returns 32 lowercase hex characters from the OS CSPRNG.
// A failing entropy source is not recoverable and panics.
func Generate() string {
	var b [Size]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("ident: entropy source failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// Sequence returns a Generator that yields the given ids in order and then
// falls back to Generate.
func Sequence(ids ...string) Generator {
	i := 0
	return func() string {
		if i < len(ids) {
			id := ids[i]
			i++
			return id
		}
		return Generate()
	}
}
