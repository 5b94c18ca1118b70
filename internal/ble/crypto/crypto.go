// Package crypto produces authentication keys for Ready for Sky appliances:
// random keys for one-off pairing and HKDF-SHA256 derived keys, so a single
// installation secret yields a stable, distinct key per appliance.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
)

// hkdfInfo binds derived keys to their use.
const hkdfInfo = "r4s auth key"

// GenerateKey returns a random authentication key.
func GenerateKey() (protocol.Key, error) {
	var k protocol.Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, fmt.Errorf("ble/crypto: random key: %w", err)
	}
	return k, nil
}

// DeriveKey uses HKDF-SHA256 to derive the authentication key of the
// appliance at mac from secret. The MAC is the salt, normalized to upper
// case, so every appliance gets its own key.
func DeriveKey(secret []byte, mac string) (protocol.Key, error) {
	var k protocol.Key
	if len(secret) == 0 {
		return k, errors.New("ble/crypto: empty secret")
	}
	salt := []byte(strings.ToUpper(strings.TrimSpace(mac)))
	r := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return k, fmt.Errorf("ble/crypto: HKDF: %w", err)
	}
	return k, nil
}
