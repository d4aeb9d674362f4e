package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInsecurePermissions is returned when a secret file is more permissive
// than 0600.
type ErrInsecurePermissions struct {
	Path string
	Mode os.FileMode
}

func (e *ErrInsecurePermissions) Error() string {
	return fmt.Sprintf("secret file %s has permissions %o, want 0600 or stricter", e.Path, e.Mode)
}

// LoadSecret reads the raw credential string for identity from dir, refusing
// files with permissions looser than 0600. Credentials are never logged by
// any caller of this function — callers must not wrap the result in an
// error or log line.
func LoadSecret(dir, identity string) (string, error) {
	path := filepath.Join(dir, identity)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat secret for %s: %w", identity, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return "", &ErrInsecurePermissions{Path: path, Mode: info.Mode().Perm()}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret for %s: %w", identity, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}
