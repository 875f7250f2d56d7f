package core

import (
	"encoding/hex"

	"github.com/cometbft/cometbft/crypto/ed25519"
)

// GenerateKey creates a fresh ed25519 private key for a new agent identity.
func GenerateKey() ed25519.PrivKey {
	return ed25519.GenPrivKey()
}

// PublicKeyHex converts raw public key bytes to the hex form used as the
// stable agent identifier throughout the system.
func PublicKeyHex(pub []byte) string {
	return hex.EncodeToString(pub)
}

// PublicKeyOf returns the hex identifier for a private key's public half.
func PublicKeyOf(priv ed25519.PrivKey) string {
	return PublicKeyHex(priv.PubKey().Bytes())
}
