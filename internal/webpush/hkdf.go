package webpush

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// The RFC 8291 derivation chain runs Extract twice with different salts
// (the subscriber's auth secret, then the per-message salt) and feeds the
// first Expand's output into the second Extract. A fused extract-and-expand
// HKDF primitive cannot express that, so both phases are implemented here
// as standalone functions over RFC 5869.

// hkdfExtract computes PRK = HMAC-SHA256(salt, ikm).
func hkdfExtract(salt, ikm []byte) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write(ikm)
	return mac.Sum(nil)
}

// hkdfExpand derives length bytes of output keying material from an
// externally supplied PRK: T(i) = HMAC-SHA256(PRK, T(i-1) || info || i)
// for i = 1..ceil(length/32), concatenated and truncated.
func hkdfExpand(prk, info []byte, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("webpush: hkdf expand length must be positive (got %d)", length)
	}
	if length > 255*sha256.Size {
		return nil, fmt.Errorf("webpush: hkdf expand length %d exceeds RFC 5869 maximum", length)
	}

	var (
		okm      = make([]byte, 0, length)
		previous []byte
	)
	for counter := byte(1); len(okm) < length; counter++ {
		mac := hmac.New(sha256.New, prk)
		mac.Write(previous)
		mac.Write(info)
		mac.Write([]byte{counter})
		previous = mac.Sum(nil)
		okm = append(okm, previous...)
	}

	return okm[:length], nil
}
