// Package storage locates resource payload files and the conversion scratch directory.
package storage

// PayloadLocator resolves on-disk payload files for resources.
type PayloadLocator interface {
	// PayloadPath returns the deterministic path <root>/<lid><ext>.
	PayloadPath(lid int64, ext string) (string, error)
	// FindPayload returns the first file matching <root>/<lid>.* or os.ErrNotExist.
	FindPayload(lid int64) (string, error)
	// ScratchDir returns the directory for temporary conversion output.
	ScratchDir() string
}
