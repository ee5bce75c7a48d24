package db

import (
	"crypto/rand"
	"encoding/binary"
)

const alphanumerics = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Token and link lengths fixed by the client protocol.
const (
	sessionTokenLength = 30
	invitationLength   = 14
)

// NewSessionToken returns a fresh 30-character alphanumeric credential.
func NewSessionToken() string {
	return randomString(sessionTokenLength)
}

// NewInvitationLink returns a redeemable group link: '+' plus 14
// alphanumerics.
func NewInvitationLink() string {
	return "+" + randomString(invitationLength)
}

// randomPositiveID returns a uniform random i32 in [1, MaxInt32].
func randomPositiveID() int32 {
	var b [4]byte
	for {
		rand.Read(b[:])
		v := int32(binary.BigEndian.Uint32(b[:]) & 0x7fffffff)
		if v != 0 {
			return v
		}
	}
}

func randomString(n int) string {
	// Largest multiple of the alphabet size below 256 keeps the modulo
	// unbiased.
	const maxUniform = byte(len(alphanumerics) * (256 / len(alphanumerics)))
	out := make([]byte, 0, n)
	var buf [64]byte
	for len(out) < n {
		rand.Read(buf[:])
		for _, b := range buf {
			if b >= maxUniform {
				continue
			}
			out = append(out, alphanumerics[int(b)%len(alphanumerics)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
