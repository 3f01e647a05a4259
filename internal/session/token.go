package session

import (
	"os"
	"strings"
)

// ReadToken returns the stored access token for a profile, or "" if absent.
func ReadToken(name string) string {
	data, err := os.ReadFile(TokenPath(name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WriteToken persists the access token for a profile with 0600 permissions.
func WriteToken(name, token string) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	return os.WriteFile(TokenPath(name), []byte(token+"\n"), 0600)
}

// ClearToken removes the stored token. Missing file is not an error.
func ClearToken(name string) error {
	err := os.Remove(TokenPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
