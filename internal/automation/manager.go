//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const (
	scriptExt    = ".lua"
	headerPrefix = "-- "
)

// validScriptID reports whether id is safe to use as a filename stem.
func validScriptID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// Manager stores automation scripts as files in one directory. The first
// line of each file is a Lua comment carrying the JSON metadata.
type Manager struct {
	dir string
	mu  sync.RWMutex
}

// NewManager creates a script manager rooted at dir, creating the
// directory when missing.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the scripts directory.
func (m *Manager) Dir() string {
	return m.dir
}

// List returns every parsable script, ordered by ID.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != scriptExt {
			continue
		}
		s, err := readScript(filepath.Join(m.dir, e.Name()))
		if err != nil {
			slog.Warn("skip unreadable script", "file", e.Name(), "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Get returns one script by ID.
func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("invalid script id %q: %w", id, ErrScriptNotFound)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := readScript(m.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("script %s: %w", id, ErrScriptNotFound)
	}
	return s, err
}

// Save writes a script to disk. A script without ID gets one derived from
// its name, made unique within the directory.
func (m *Manager) Save(s *Script) (*Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.uniqueID(slugify(s.Meta.Name))
	}
	if !validScriptID(s.ID) {
		return nil, fmt.Errorf("invalid script id %q", s.ID)
	}

	s.FilePath = m.path(s.ID)
	if err := os.WriteFile(s.FilePath, []byte(encodeScript(s)), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

// Delete removes a script file.
func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("invalid script id %q: %w", id, ErrScriptNotFound)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("script %s: %w", id, ErrScriptNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+scriptExt)
}

func (m *Manager) uniqueID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for i := 1; ; i++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}
}

func readScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := decodeScript(string(data))
	s.ID = strings.TrimSuffix(filepath.Base(path), scriptExt)
	s.FilePath = path
	return s, nil
}

// decodeScript splits a script file into its metadata header and Lua body.
// A file without a header is treated as plain Lua with empty metadata.
func decodeScript(content string) *Script {
	s := &Script{}
	body := content
	first, rest, _ := strings.Cut(content, "\n")
	if strings.HasPrefix(first, headerPrefix+"{") {
		if err := json.Unmarshal([]byte(strings.TrimPrefix(first, headerPrefix)), &s.Meta); err != nil {
			slog.Warn("script metadata parse error", "err", err)
		}
		body = rest
	}
	s.LuaCode = strings.TrimLeft(body, "\n")
	return s
}

func encodeScript(s *Script) string {
	var b strings.Builder
	meta, _ := json.Marshal(s.Meta)
	b.WriteString(headerPrefix)
	b.Write(meta)
	b.WriteString("\n")
	if s.LuaCode != "" {
		b.WriteString("\n")
		b.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = strings.TrimRight(s[:40], "_")
	}
	return s
}
