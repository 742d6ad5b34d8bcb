package webpush

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrInvalidSubscription marks a subscription whose shape or key material is
// unusable. Callers classify it as a per-target error, never as a
// broadcast-level failure.
var ErrInvalidSubscription = errors.New("webpush: invalid subscription")

// Keys contains the client's encryption key material.
type Keys struct {
	P256dh string `json:"p256dh"` // subscriber ECDH public key, base64url
	Auth   string `json:"auth"`   // subscriber authentication secret, base64url
}

// Subscription represents a Web Push subscription as issued by a client
// device.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// ParseSubscription decodes a stored subscription token and checks that the
// fields needed for encryption and delivery are present.
func ParseSubscription(data []byte) (*Subscription, error) {
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}
	if sub.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	if sub.Keys.P256dh == "" {
		return nil, fmt.Errorf("%w: p256dh key is required", ErrInvalidSubscription)
	}
	if sub.Keys.Auth == "" {
		return nil, fmt.Errorf("%w: auth secret is required", ErrInvalidSubscription)
	}
	return &sub, nil
}

// Origin returns the scheme://host portion of the subscription endpoint,
// the audience a VAPID token must be scoped to.
func (s *Subscription) Origin() (string, error) {
	parsed, err := url.Parse(s.Endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: endpoint: %v", ErrInvalidSubscription, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: endpoint %q has no origin", ErrInvalidSubscription, s.Endpoint)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}
