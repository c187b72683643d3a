// Package security validates user-supplied inputs that end up on the command
// line of cryptsetup and friends.
package security

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxKeySize is the largest key file cryptsetup reads by default (8 MiB).
const DefaultMaxKeySize = 8 << 20

// maxMappingName is the device-mapper name length limit (DM_NAME_LEN - 1).
const maxMappingName = 127

// Validator checks key files and device-mapper names.
type Validator struct {
	maxKeySize int64
	// stat is os.Stat; replaced in tests
	stat func(string) (os.FileInfo, error)
}

// NewValidator creates a new security validator
func NewValidator(maxKeySize int64) *Validator {
	return &Validator{maxKeySize: maxKeySize, stat: os.Stat}
}

var defaultValidator = NewValidator(DefaultMaxKeySize)

// ValidateKeyFile validates path with the default limits.
func ValidateKeyFile(path string) error {
	return defaultValidator.ValidateKeyFile(path)
}

// ValidateMappingName validates name with the default limits.
func ValidateMappingName(name string) error {
	return defaultValidator.ValidateMappingName(name)
}

// ValidatePath rejects relative paths and paths that are not in canonical form
func (v *Validator) ValidatePath(path string) error {
	if !filepath.IsAbs(path) {
		slog.Error("security_path_validation_failed", "path", path, "reason", "relative_path")
		return fmt.Errorf("security: key file path must be absolute: %s", path)
	}

	if filepath.Clean(path) != path {
		slog.Error("security_path_validation_failed", "path", path, "reason", "not_canonical")
		return fmt.Errorf("security: key file path is not canonical: %s", path)
	}

	return nil
}

// ValidateKeyFile checks that path is a regular file no other user can read
// and that it fits the key size limit
func (v *Validator) ValidateKeyFile(path string) error {
	if err := v.ValidatePath(path); err != nil {
		return err
	}

	fi, err := v.stat(path)
	if err != nil {
		slog.Error("security_key_file_unreadable", "path", path, "error", err)
		return fmt.Errorf("security: key file: %w", err)
	}

	if !fi.Mode().IsRegular() {
		slog.Error("security_key_file_validation_failed", "path", path, "reason", "not_regular", "mode", fi.Mode().String())
		return fmt.Errorf("security: key file is not a regular file: %s", path)
	}

	if fi.Mode().Perm()&0o077 != 0 {
		slog.Error("security_key_file_validation_failed", "path", path, "reason", "permissive_mode", "mode", fi.Mode().String())
		return fmt.Errorf("security: key file %s is accessible by other users (mode %s)", path, fi.Mode().Perm())
	}

	if fi.Size() == 0 || fi.Size() > v.maxKeySize {
		slog.Error("security_key_file_validation_failed", "path", path, "reason", "size", "size", fi.Size(), "max_size", v.maxKeySize)
		return fmt.Errorf("security: key file size %d outside (0, %d]", fi.Size(), v.maxKeySize)
	}

	return nil
}

// ValidateMappingName checks a name is usable under /dev/mapper
func (v *Validator) ValidateMappingName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("security: invalid mapping name %q", name)
	case len(name) > maxMappingName:
		return fmt.Errorf("security: mapping name longer than %d bytes", maxMappingName)
	case strings.ContainsAny(name, "/ \t\n"):
		slog.Error("security_mapping_name_rejected", "name", name)
		return fmt.Errorf("security: mapping name %q contains a separator", name)
	}
	return nil
}
