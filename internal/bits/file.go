package bits

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadFile loads a buffer from disk. Files ending in .bits or .txt are
// parsed as '0'/'1' text; anything else is treated as raw bytes.
func ReadFile(path string) (Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Empty, fmt.Errorf("read %s: %w", path, err)
	}
	if isTextual(path) {
		b, err := Parse(string(data))
		if err != nil {
			return Empty, fmt.Errorf("parse %s: %w", path, err)
		}
		return b, nil
	}
	return FromBytes(data), nil
}

// WriteFile stores b using the same extension rule as ReadFile.
func WriteFile(path string, b Buffer) error {
	var data []byte
	if isTextual(path) {
		data = []byte(b.String() + "\n")
	} else {
		data = b.Bytes()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func isTextual(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bits", ".txt":
		return true
	}
	return false
}
