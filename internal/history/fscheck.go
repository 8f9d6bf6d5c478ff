package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// validateFilesystem refuses to open the delivery database on a network
// filesystem. SQLite locking over NFS/SMB is unreliable enough to corrupt
// the history silently, so this fails loudly before the first open.
func validateFilesystem(path string) error {
	return validateFilesystemWithDetector(path, detectFilesystemType)
}

func validateFilesystemWithDetector(path string, detect func(string) (string, error)) error {
	if path == "" {
		return errors.New("history path is empty")
	}

	probe, err := closestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve history path %q: %w", path, err)
	}

	fsType, err := detect(probe)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", probe, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("history path %q sits on network filesystem %q; "+
			"SQLite requires a local filesystem for reliable locking. "+
			"Point history.path at local disk", path, fsType)
	}
	return nil
}

// closestExisting walks up from path until it finds something that exists,
// so a database that has not been created yet is probed via its directory.
func closestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	for p := abs; ; p = filepath.Dir(p) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", p, err)
		}
		if filepath.Dir(p) == p {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
	}
}

func isNetworkFilesystem(fsType string) bool {
	switch strings.ToLower(strings.TrimSpace(fsType)) {
	case "nfs", "nfs4", "cifs", "smbfs", "smb2", "afpfs", "webdav":
		return true
	}
	return false
}
