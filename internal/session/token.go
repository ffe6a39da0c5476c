package session

import (
	"fmt"
	"os"
	"strings"
)

// SaveToken writes the bearer token for a session, creating the session dir.
func SaveToken(name, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty token")
	}
	if err := EnsureDir(name); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return os.WriteFile(TokenPath(name), []byte(token+"\n"), 0600)
}

// LoadToken reads the bearer token for a session. Returns an empty string
// (no error) when no token has been stored; the caller decides whether a
// missing token is fatal. A session without a token never opens a socket.
func LoadToken(name string) (string, error) {
	data, err := os.ReadFile(TokenPath(name))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ClearToken removes the stored token. Missing file is not an error.
func ClearToken(name string) error {
	err := os.Remove(TokenPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
