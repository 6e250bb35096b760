package rental

import (
	"encoding/base64"
	"testing"
)

func TestNewSessionKey(t *testing.T) {
	key, err := NewSessionKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	if len(key) != 24 {
		t.Errorf("expected 24-character key, got %d: %q", len(key), key)
	}

	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		t.Fatalf("key is not valid base64: %v", err)
	}
	if len(raw) != sessionKeyBytes {
		t.Errorf("expected %d bytes of entropy, got %d", sessionKeyBytes, len(raw))
	}
}

func TestNewSessionKey_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		key, err := NewSessionKey()
		if err != nil {
			t.Fatalf("key generation failed: %v", err)
		}
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key after %d generations: %s", i, key)
		}
		seen[key] = struct{}{}
	}
}
