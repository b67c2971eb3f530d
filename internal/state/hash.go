package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize serializes state into its canonical byte form. Map keys are
// emitted in sorted order and struct fields in declaration order, so two
// semantically equal states always produce identical bytes.
func Canonicalize(s *ApplicationState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize state: %w", err)
	}
	return data, nil
}

// Hash returns the hex-encoded SHA-256 of the canonical serialization.
func Hash(s *ApplicationState) (string, error) {
	data, err := Canonicalize(s)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
