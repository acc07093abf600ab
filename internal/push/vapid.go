package push

import (
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
)

// VAPIDKeys is an application server key pair, base64url encoded.
type VAPIDKeys struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// GenerateVAPIDKeys creates a fresh P-256 key pair for a client application.
func GenerateVAPIDKeys() (VAPIDKeys, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("failed to generate vapid keys: %w", err)
	}
	return VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey}, nil
}
