package token

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AuthFileName is the credential file each slot directory may contain.
const AuthFileName = "auth.json"

// AuthFile is the on-disk credential file for one slot (or the installation
// root itself). Either an API key or a token bundle may be present.
type AuthFile struct {
	APIKey      string     `json:"api_key,omitempty"`
	Tokens      *TokenData `json:"tokens,omitempty"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

// IsEmpty reports whether the file carries no credential material at all.
func (f *AuthFile) IsEmpty() bool {
	return f == nil || (f.APIKey == "" && f.Tokens.IsZero())
}

// ReadAuthFile loads and parses a credential file. A missing file surfaces
// as an error satisfying os.IsNotExist so callers can treat it as absence.
func ReadAuthFile(path string) (*AuthFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed AuthFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &parsed, nil
}

// WriteAuthFile persists a credential file with owner-only permissions,
// writing to a temp file first and renaming over the target.
func WriteAuthFile(path string, file *AuthFile) error {
	if file == nil {
		return fmt.Errorf("auth file is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("prepare auth directory: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp auth file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename auth file: %w", err)
	}
	return nil
}
