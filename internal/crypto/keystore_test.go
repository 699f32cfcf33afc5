package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptToken("kite-access-token-abc123", "hunter2")
	require.NoError(t, err)

	var stored struct {
		Version    int    `json:"version"`
		Salt       string `json:"salt"`
		Nonce      string `json:"nonce"`
		Ciphertext string `json:"ciphertext"`
	}
	require.NoError(t, json.Unmarshal(blob, &stored))
	assert.Equal(t, 1, stored.Version)
	assert.NotEmpty(t, stored.Salt)
	assert.NotEmpty(t, stored.Nonce)
	assert.NotContains(t, string(blob), "kite-access-token")

	token, err := DecryptToken(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "kite-access-token-abc123", token)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptToken("tok", "right")
	require.NoError(t, err)

	_, err = DecryptToken(blob, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestDecryptRejectsUnknownVersion(t *testing.T) {
	blob, err := EncryptToken("tok", "pw")
	require.NoError(t, err)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(blob, &stored))
	stored["version"] = 99
	tampered, err := json.Marshal(stored)
	require.NoError(t, err)

	_, err = DecryptToken(tampered, "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestEncryptRejectsEmptyInputs(t *testing.T) {
	_, err := EncryptToken("", "pw")
	require.Error(t, err)

	_, err = EncryptToken("tok", "")
	require.Error(t, err)
}

func TestLoadTokenPrefersRaw(t *testing.T) {
	tok, err := LoadToken(TokenSource{RawToken: "raw-token", TokenFile: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, "raw-token", tok)
}

func TestLoadTokenFromFile(t *testing.T) {
	blob, err := EncryptToken("filed-token", "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "token.enc")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	tok, err := LoadToken(TokenSource{TokenFile: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "filed-token", tok)
}

func TestLoadTokenEmptySourceIsNotAnError(t *testing.T) {
	tok, err := LoadToken(TokenSource{})
	require.NoError(t, err)
	assert.Empty(t, tok)
}
