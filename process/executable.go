package process

import (
	"fmt"
	"os"
)

// CheckExecutable verifies that path names an executable regular file.
func CheckExecutable(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty executable path", ErrInvalidArgument)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: executable %s: %v", ErrInvalidArgument, path, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a file", ErrInvalidArgument, path)
	}
	if fi.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%w: %s is not executable", ErrInvalidArgument, path)
	}
	return nil
}

// CheckDir verifies that path names an existing directory.
func CheckDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: directory %s: %v", ErrInvalidArgument, path, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidArgument, path)
	}
	return nil
}

// CheckFile verifies that path names an existing regular file.
func CheckFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: file %s: %v", ErrInvalidArgument, path, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a file", ErrInvalidArgument, path)
	}
	return nil
}
