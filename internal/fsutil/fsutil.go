// Package fsutil holds the small filesystem helpers used for local renders.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// PrepareWorkDir returns an empty directory named name under root, removing
// whatever a previous run left there. An empty root means the OS temp dir.
func PrepareWorkDir(root, name string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid work dir name %q", name)
	}

	dir := filepath.Join(root, name)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear work dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	return dir, nil
}

// MoveFile moves src to dst, creating dst's directory. It falls back to copy
// and delete when src and dst are on different filesystems.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("failed to move %s: %w", src, err)
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
