package transfer

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const maxFilenameLength = 255

var (
	// ErrInvalidFilename indicates an empty, dot-only or oversized file name.
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrInsufficientSpace indicates the destination cannot hold the file.
	ErrInsufficientSpace = errors.New("insufficient free space")
)

// SanitizeFilename reduces a peer-supplied name to its last path element,
// treating both slash styles as separators, and rejects names that could
// escape the destination folder.
func SanitizeFilename(name string) (string, error) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	switch {
	case name == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	case len(name) > maxFilenameLength:
		return "", fmt.Errorf("%w: name longer than %d bytes", ErrInvalidFilename, maxFilenameLength)
	case strings.ContainsRune(name, 0):
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidFilename)
	}
	return name, nil
}

// CanWriteToFolder checks that dir exists, accepts a new file and has at
// least required bytes free. A nil error means the folder is usable.
func CanWriteToFolder(dir string, required int64) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("destination folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("destination %s is not a directory", dir)
	}

	probe, err := os.CreateTemp(dir, ".quicshare-probe-*")
	if err != nil {
		return fmt.Errorf("destination folder not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)

	free, err := freeSpace(dir)
	if err != nil {
		return fmt.Errorf("destination free space: %w", err)
	}
	if free >= 0 && free < required {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrInsufficientSpace, required, free)
	}
	return nil
}

// CanReadFile checks that path is a regular file that can be opened for
// reading and returns its size.
func CanReadFile(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("source file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("source file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("source %s is not a regular file", path)
	}
	return info.Size(), nil
}
