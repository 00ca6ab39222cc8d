package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FS implements PayloadLocator on the local file system.
type FS struct {
	root    string // absolute payload directory
	scratch string // absolute scratch directory
}

// NewFS creates the payload and scratch directories if needed and returns a locator.
func NewFS(payloadDir, scratchDir string) (*FS, error) {
	root, err := ensureDir(payloadDir)
	if err != nil {
		return nil, err
	}
	scratch, err := ensureDir(scratchDir)
	if err != nil {
		return nil, err
	}
	return &FS{root: root, scratch: scratch}, nil
}

func ensureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("storage: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir %s: %w", abs, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("storage: stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("storage: not a directory: %s", abs)
	}
	return abs, nil
}

// Root returns the payload directory.
func (f *FS) Root() string { return f.root }

// ScratchDir returns the conversion output directory.
func (f *FS) ScratchDir() string { return f.scratch }

// safeName rejects names that would escape the payload root.
func (f *FS) safeName(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("storage: invalid payload name: %q", name)
	}
	joined := filepath.Join(f.root, name)
	if filepath.Dir(joined) != f.root {
		return "", fmt.Errorf("storage: path escapes payload root: %s", name)
	}
	return joined, nil
}

// PayloadPath returns <root>/<lid><ext>. ext may be empty or start with a dot.
func (f *FS) PayloadPath(lid int64, ext string) (string, error) {
	if lid <= 0 {
		return "", fmt.Errorf("storage: invalid resource lid %d", lid)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return f.safeName(strconv.FormatInt(lid, 10) + ext)
}

// FindPayload returns the lexically first file named <lid>.* in the payload root.
func (f *FS) FindPayload(lid int64) (string, error) {
	if lid <= 0 {
		return "", fmt.Errorf("storage: invalid resource lid %d", lid)
	}
	matches, err := filepath.Glob(filepath.Join(f.root, strconv.FormatInt(lid, 10)+".*"))
	if err != nil {
		return "", fmt.Errorf("storage: glob payload %d: %w", lid, err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return m, nil
		}
	}
	return "", fmt.Errorf("storage: payload %d: %w", lid, os.ErrNotExist)
}

// WritePayload atomically writes a payload file: tmp file → fsync → rename.
func (f *FS) WritePayload(lid int64, ext string, content []byte) (string, error) {
	abs, err := f.PayloadPath(lid, ext)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(f.root, ".notidx-tmp-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return abs, nil
}

// LidFromName parses the resource lid out of a payload file name such as
// "42.pdf". It reports false for names that are not payload files.
func LidFromName(name string) (int64, bool) {
	stem, _, _ := strings.Cut(filepath.Base(name), ".")
	lid, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || lid <= 0 {
		return 0, false
	}
	return lid, true
}
