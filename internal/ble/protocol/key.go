package protocol

import (
	"encoding/hex"
	"fmt"
)

// KeySize is the length of the authentication key.
const KeySize = 8

// Key is the secret an appliance pairs with. The appliance remembers keys it
// accepted while in pairing mode and rejects unknown ones afterwards.
type Key [KeySize]byte

// ParseKey validates the length of b and converts it to a Key.
func ParseKey(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, &ValidationError{Field: "key length", Value: len(b), Reason: fmt.Sprintf("must be %d bytes", KeySize)}
	}
	copy(k[:], b)
	return k, nil
}

// ParseKeyHex parses a key written as 16 hex characters.
func ParseKeyHex(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("protocol: parse key: %w", err)
	}
	return ParseKey(b)
}

func (k Key) String() string { return hex.EncodeToString(k[:]) }
