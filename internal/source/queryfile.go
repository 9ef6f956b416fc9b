package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadQuery reads a .sql file from dir. The resolved path must stay
// inside dir so a crafted name like "../../etc/passwd" cannot escape.
func LoadQuery(dir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("query file name is empty")
	}
	if filepath.Ext(name) != ".sql" {
		return "", fmt.Errorf("only .sql files are allowed, got %q", name)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve queries dir: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(absDir, name))
	if err != nil {
		return "", fmt.Errorf("resolve query path: %w", err)
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("query file %q resolves outside the queries directory", name)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("read query file: %w", err)
	}
	query := strings.TrimSpace(string(data))
	if query == "" {
		return "", fmt.Errorf("query file is empty: %s", absPath)
	}
	return query, nil
}
