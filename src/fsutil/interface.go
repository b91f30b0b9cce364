package fsutil

// FileStore provides an interface for file system operations
type FileStore interface {
	// ReadFile reads a file and returns its contents
	ReadFile(path string) ([]byte, error)

	// WriteFile replaces the file at path with data. Readers never observe a
	// partially written file.
	WriteFile(path string, data []byte) error

	// MakeDirectory creates a new directory and all necessary parents
	MakeDirectory(path string) error

	// Remove deletes a single file
	Remove(path string) error

	// ListFiles returns the regular files directly under dir whose extension
	// matches one of exts (case-insensitive), sorted by name. An empty exts
	// matches every file.
	ListFiles(dir string, exts []string) ([]string, error)
}
