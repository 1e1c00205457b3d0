package daemon

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateTokenCreates(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")

	token, err := LoadOrCreateToken(tokenPath)
	if err != nil {
		t.Fatalf("LoadOrCreateToken: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}

	data, err := os.ReadFile(tokenPath)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	if strings.TrimSpace(string(data)) != token {
		t.Fatalf("file token mismatch")
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("token not base64: %v", err)
	}
	if len(decoded) != 32 {
		t.Fatalf("expected 32 random bytes, got %d", len(decoded))
	}
}

func TestLoadOrCreateTokenReadsExisting(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")

	if err := os.WriteFile(tokenPath, []byte("existing\n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	token, err := LoadOrCreateToken(tokenPath)
	if err != nil {
		t.Fatalf("LoadOrCreateToken: %v", err)
	}
	if token != "existing" {
		t.Fatalf("expected existing token, got %q", token)
	}
}

func TestTokenMatches(t *testing.T) {
	if tokenMatches("", "") {
		t.Fatal("empty tokens must never match")
	}
	if tokenMatches("secret", "") {
		t.Fatal("blank presentation matched")
	}
	if !tokenMatches("secret", "secret") {
		t.Fatal("identical tokens rejected")
	}
	if tokenMatches("secret", "Secret") {
		t.Fatal("case-different tokens matched")
	}
}
