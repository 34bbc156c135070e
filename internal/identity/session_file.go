package identity

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"devforum/internal/authstate"
)

// loadSession returns nil without error when no session has been saved.
func loadSession(path string) (*authstate.Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var sess authstate.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" || sess.Identity.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// saveSession writes sess atomically with owner-only permissions. A nil
// session removes the file.
func saveSession(path string, sess *authstate.Session) error {
	if sess == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DefaultSessionPath is where the command line client keeps its session.
func DefaultSessionPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "devforum", "session.json"), nil
}
