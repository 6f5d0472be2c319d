package aggregate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Group is one top-level subdirectory of the input root and the export files below it
type Group struct {
	Name  string
	Root  string
	Files []string
}

// Discover lists one group per top-level subdirectory of root. Files are found
// recursively, filtered by extension and sorted. Regular files directly under
// root belong to no group and are returned as skipped.
func Discover(root string, extensions []string) ([]Group, []string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list input directory: %w", err)
	}

	var groups []Group
	var skipped []string
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if !entry.IsDir() {
			if entry.Type().IsRegular() && hasExtension(entry.Name(), extensions) {
				skipped = append(skipped, path)
			}
			continue
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		files, err := listFiles(path, extensions)
		if err != nil {
			return nil, nil, err
		}
		groups = append(groups, Group{Name: entry.Name(), Root: path, Files: files})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, skipped, nil
}

func listFiles(dir string, extensions []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && hasExtension(d.Name(), extensions) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk group directory %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func hasExtension(name string, allowed []string) bool {
	ext := filepath.Ext(name)
	for _, a := range allowed {
		if strings.EqualFold(ext, a) {
			return true
		}
	}
	return false
}
