package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/alexhulbert/tdx-identity/pkg/types"
)

// MarshalRegistryEntry serializes a RegistryEntry with encoding/gob, the
// standard library's compact self-describing binary format (see
// DESIGN.md for why no third-party binary codec is used here).
func MarshalRegistryEntry(entry *types.RegistryEntry) ([]byte, error) {
	if entry == nil {
		return nil, fmt.Errorf("cannot marshal nil RegistryEntry")
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, fmt.Errorf("failed to gob-encode RegistryEntry: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalRegistryEntry deserializes a RegistryEntry from gob bytes.
func UnmarshalRegistryEntry(data []byte) (*types.RegistryEntry, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var entry types.RegistryEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to gob-decode RegistryEntry: %w", err)
	}
	return &entry, nil
}
