package app

import (
	"fmt"
	"strings"

	"github.com/tavolohq/tavolo/internal/webpush"
)

// ApplyRuntimeDefaults ensures the VAPID keypair is populated even when no
// configuration file is supplied. It returns a map describing which keys were
// generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	publicMissing := strings.TrimSpace(cfg.Push.VAPIDPublicKey) == ""
	privateMissing := strings.TrimSpace(cfg.Push.VAPIDPrivateKey) == ""
	if publicMissing != privateMissing {
		return nil, fmt.Errorf("push: vapid_public_key and vapid_private_key must be configured together")
	}

	if publicMissing && privateMissing {
		publicKey, privateKey, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return nil, fmt.Errorf("generate vapid keys: %w", err)
		}
		cfg.Push.VAPIDPublicKey = publicKey
		cfg.Push.VAPIDPrivateKey = privateKey
		generated["push.vapid_public_key"] = true
		generated["push.vapid_private_key"] = true
	}

	return generated, nil
}
