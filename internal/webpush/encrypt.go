package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// uncompressedPointSize is the length of an uncompressed P-256 point
	// (0x04 marker plus two 32-byte coordinates).
	uncompressedPointSize = 65

	// authSecretSize is the length of the subscriber's auth secret.
	authSecretSize = 16

	saltSize  = 16
	cekSize   = 16
	nonceSize = 12

	// recordSize is the fixed rs field of the aes128gcm content coding
	// header. Payloads fit a single record well inside this bound.
	recordSize = 4096

	// recordDelimiter terminates the last (and only) record.
	recordDelimiter = 0x02

	headerSize = saltSize + 4 + 1 + uncompressedPointSize
)

var (
	keyInfoPrefix = []byte("WebPush: info\x00")
	cekInfo       = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo     = []byte("Content-Encoding: nonce\x00")
)

// EncryptedMessage is the product of encrypting one payload for one
// subscription. Salt and ephemeral key are fresh per message and must never
// be reused.
type EncryptedMessage struct {
	Ciphertext         []byte
	Salt               []byte
	EphemeralPublicKey []byte
}

// Encrypt performs RFC 8291 message encryption: ECDH key agreement against
// the subscriber's public key, the two-stage HKDF derivation, and
// AES-128-GCM with a trailing record delimiter.
func Encrypt(sub *Subscription, plaintext []byte) (*EncryptedMessage, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: subscription is nil", ErrInvalidSubscription)
	}

	uaPublic, err := DecodeBase64URL(sub.Keys.P256dh)
	if err != nil {
		return nil, fmt.Errorf("%w: p256dh: %v", ErrInvalidSubscription, err)
	}
	if len(uaPublic) != uncompressedPointSize || uaPublic[0] != 0x04 {
		return nil, fmt.Errorf("%w: p256dh must be a %d-byte uncompressed point", ErrInvalidSubscription, uncompressedPointSize)
	}

	uaAuth, err := DecodeBase64URL(sub.Keys.Auth)
	if err != nil {
		return nil, fmt.Errorf("%w: auth: %v", ErrInvalidSubscription, err)
	}
	if len(uaAuth) != authSecretSize {
		return nil, fmt.Errorf("%w: auth secret must be %d bytes (got %d)", ErrInvalidSubscription, authSecretSize, len(uaAuth))
	}

	subscriberKey, err := ecdh.P256().NewPublicKey(uaPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: p256dh is not a valid P-256 point", ErrInvalidSubscription)
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("webpush: generate ephemeral key: %w", err)
	}
	asPublic := ephemeral.PublicKey().Bytes()

	sharedSecret, err := ephemeral.ECDH(subscriberKey)
	if err != nil {
		return nil, fmt.Errorf("webpush: ecdh agreement: %w", err)
	}

	// First extract/expand: bind the shared secret to the auth secret and
	// both public keys, yielding the input keying material.
	prkKey := hkdfExtract(uaAuth, sharedSecret)
	keyInfo := make([]byte, 0, len(keyInfoPrefix)+2*uncompressedPointSize)
	keyInfo = append(keyInfo, keyInfoPrefix...)
	keyInfo = append(keyInfo, uaPublic...)
	keyInfo = append(keyInfo, asPublic...)
	ikm, err := hkdfExpand(prkKey, keyInfo, 32)
	if err != nil {
		return nil, fmt.Errorf("webpush: derive ikm: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("webpush: generate salt: %w", err)
	}

	// Second extract/expand: salt the IKM per message, then split into the
	// content encryption key and the GCM nonce.
	prk := hkdfExtract(salt, ikm)
	cek, err := hkdfExpand(prk, cekInfo, cekSize)
	if err != nil {
		return nil, fmt.Errorf("webpush: derive cek: %w", err)
	}
	nonce, err := hkdfExpand(prk, nonceInfo, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("webpush: derive nonce: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("webpush: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("webpush: init gcm: %w", err)
	}

	record := make([]byte, 0, len(plaintext)+1)
	record = append(record, plaintext...)
	record = append(record, recordDelimiter)

	return &EncryptedMessage{
		Ciphertext:         gcm.Seal(nil, nonce, record, nil),
		Salt:               salt,
		EphemeralPublicKey: asPublic,
	}, nil
}

// Body assembles the RFC 8188 aes128gcm request body:
// salt (16) || rs (4, big-endian) || idlen (1) || keyid (65) || ciphertext.
func (m *EncryptedMessage) Body() []byte {
	body := make([]byte, 0, headerSize+len(m.Ciphertext))
	body = append(body, m.Salt...)
	body = binary.BigEndian.AppendUint32(body, recordSize)
	body = append(body, byte(len(m.EphemeralPublicKey)))
	body = append(body, m.EphemeralPublicKey...)
	body = append(body, m.Ciphertext...)
	return body
}
