package webpush

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeBase64URL encodes raw bytes using the URL-safe base64 alphabet with
// padding stripped, the form required for push subscription keys and VAPID
// header material.
func EncodeBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeBase64URL decodes URL-safe base64, tolerating padded and unpadded
// input. Subscriptions arrive from many client stacks and the two forms are
// seen interchangeably in the wild.
func DecodeBase64URL(value string) ([]byte, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(value), "=")
	decoded, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("webpush: decode base64url: %w", err)
	}
	return decoded, nil
}
