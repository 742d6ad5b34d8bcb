package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tavolohq/tavolo/internal/webpush"
)

func TestApplyRuntimeDefaultsGeneratesKeypair(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.True(t, generated["push.vapid_public_key"])
	require.True(t, generated["push.vapid_private_key"])
	require.NotEmpty(t, cfg.Push.VAPIDPublicKey)
	require.NotEmpty(t, cfg.Push.VAPIDPrivateKey)

	// The generated material must be usable for signing.
	_, err = webpush.NewSigner(webpush.SignerConfig{
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
	})
	require.NoError(t, err)
}

func TestApplyRuntimeDefaultsKeepsConfiguredKeys(t *testing.T) {
	publicKey, privateKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	cfg := &Config{}
	cfg.Push.VAPIDPublicKey = publicKey
	cfg.Push.VAPIDPrivateKey = privateKey

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, publicKey, cfg.Push.VAPIDPublicKey)
	require.Equal(t, privateKey, cfg.Push.VAPIDPrivateKey)
}

func TestApplyRuntimeDefaultsRejectsPartialKeypair(t *testing.T) {
	cfg := &Config{}
	cfg.Push.VAPIDPublicKey = "only-half"

	_, err := ApplyRuntimeDefaults(cfg)
	require.Error(t, err)
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.Error(t, err)
}
