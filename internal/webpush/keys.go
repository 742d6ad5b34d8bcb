package webpush

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"
)

// GenerateVAPIDKeys creates a fresh P-256 keypair and returns it in the
// base64url form exchanged with push services: a 65-byte uncompressed
// public point and a 32-byte private scalar.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("webpush: generate vapid keys: %w", err)
	}

	public := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	private := key.D.FillBytes(make([]byte, 32))

	return EncodeBase64URL(public), EncodeBase64URL(private), nil
}

// decodeVAPIDPrivateKey rebuilds an ECDSA private key from the configured
// base64url 32-byte scalar.
func decodeVAPIDPrivateKey(privateKey string) (*ecdsa.PrivateKey, error) {
	raw, err := DecodeBase64URL(privateKey)
	if err != nil {
		return nil, fmt.Errorf("webpush: vapid private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("webpush: vapid private key must be 32 bytes (got %d)", len(raw))
	}

	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 {
		return nil, fmt.Errorf("webpush: vapid private key is zero")
	}

	key := &ecdsa.PrivateKey{D: d}
	key.PublicKey.Curve = elliptic.P256()
	key.PublicKey.X, key.PublicKey.Y = elliptic.P256().ScalarBaseMult(raw)
	return key, nil
}

// validateVAPIDPublicKey checks the configured public key decodes to an
// uncompressed P-256 point.
func validateVAPIDPublicKey(publicKey string) error {
	raw, err := DecodeBase64URL(publicKey)
	if err != nil {
		return fmt.Errorf("webpush: vapid public key: %w", err)
	}
	if len(raw) != uncompressedPointSize || raw[0] != 0x04 {
		return fmt.Errorf("webpush: vapid public key must be a %d-byte uncompressed point", uncompressedPointSize)
	}
	return nil
}
