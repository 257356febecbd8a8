package infra

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// GetWorkDir expands root (which may start with ~), joins the optional parts and makes sure the directory exists.
func GetWorkDir(root string, parts ...string) (string, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return "", fmt.Errorf("expand work dir %q: %w", root, err)
	}
	workDir := filepath.Join(append([]string{expanded}, parts...)...)
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return "", fmt.Errorf("create work dir %q: %w", workDir, err)
	}
	return workDir, nil
}

// GetResourcesPath builds a path inside the embedded resources filesystem, which always uses forward slashes.
func GetResourcesPath(parts ...string) string {
	return path.Join(parts...)
}
