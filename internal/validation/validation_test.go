package validation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateHTTPURL(t *testing.T) {
	good := []string{"http://127.0.0.1:8080", "https://relay.example/api"}
	for _, u := range good {
		if err := ValidateHTTPURL(u); err != nil {
			t.Errorf("ValidateHTTPURL(%q) = %v", u, err)
		}
	}
	bad := []string{"", "relay.example", "ftp://relay.example", "https://"}
	for _, u := range bad {
		if err := ValidateHTTPURL(u); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("ValidateHTTPURL(%q): expected ErrInvalidURL, got %v", u, err)
		}
	}
}

func TestValidateDir(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("ValidateDir failed: %v", err)
	}

	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := ValidateDir(file); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("Expected ErrNotDirectory, got %v", err)
	}
	if err := ValidateDir(filepath.Join(dir, "missing")); !errors.Is(err, ErrPathNotExists) {
		t.Errorf("Expected ErrPathNotExists, got %v", err)
	}
}

func TestValidateRangesAndChoices(t *testing.T) {
	if err := ValidateRangeInt(0, 1, 255); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange, got %v", err)
	}
	if err := ValidateRangeInt64(10, 0, 10); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := ValidateOneOf("bolt", "memory", "bolt"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := ValidateOneOf("redis", "memory", "bolt"); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("Expected ErrNotAllowed, got %v", err)
	}
	if err := ValidateAddr("not-an-addr"); !errors.Is(err, ErrInvalidAddr) {
		t.Errorf("Expected ErrInvalidAddr, got %v", err)
	}
}
