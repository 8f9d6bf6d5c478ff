//go:build !darwin && !linux

package history

import "errors"

func detectFilesystemType(path string) (string, error) {
	return "", errors.New("filesystem detection is unsupported on this platform")
}
