package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScriptExtension is the file extension listed by ListScripts.
const ScriptExtension = ".dmx"

// ScriptPath resolves a script name against the script directory.
//
// Names are slash-separated paths relative to the directory; absolute
// paths and paths escaping it are rejected.
func (e *Engine) ScriptPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidScriptName, name)
	}

	path := filepath.Join(e.cfg.ScriptDir, filepath.FromSlash(name))
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrScriptNotFound, name)
		}
		return "", fmt.Errorf("checking script %s: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidScriptName, name)
	}
	return path, nil
}

// ListScripts returns the .dmx files in the script directory, sorted by
// name. A missing directory lists nothing.
func (e *Engine) ListScripts() ([]ScriptInfo, error) {
	entries, err := os.ReadDir(e.cfg.ScriptDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ScriptInfo{}, nil
		}
		return nil, fmt.Errorf("reading script directory: %w", err)
	}

	scripts := []ScriptInfo{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ScriptExtension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}
		scripts = append(scripts, ScriptInfo{
			Name:       entry.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Name < scripts[j].Name })
	return scripts, nil
}
