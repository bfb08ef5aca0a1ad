package enumerate

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"
)

// Entry is one file found under a storage root. Path is relative,
// slash-separated and prefixed with the root's base name so multiple
// roots (originals, thumbnails) never collide.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
}

// Result is a streamed enumeration item.
type Result struct {
	Entry Entry
	Err   error
}

// Enumerator walks one or more storage roots and yields regular files.
type Enumerator struct {
	roots []string
}

// New creates an enumerator over the given roots.
func New(roots ...string) *Enumerator {
	return &Enumerator{roots: roots}
}

// Enumerate traverses all roots and streams results via channel.
// Directories and special files (sockets, devices, pipes, symlinks) are
// skipped; only regular file content is backed up.
func (e *Enumerator) Enumerate(ctx context.Context) <-chan Result {
	results := make(chan Result, 100)

	go func() {
		defer close(results)
		for _, root := range e.roots {
			prefix := filepath.Base(filepath.Clean(root))
			err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					results <- Result{Err: err}
					return nil // keep walking
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if d.IsDir() {
					return nil
				}

				info, err := d.Info()
				if err != nil {
					results <- Result{Err: err}
					return nil
				}
				if !info.Mode().IsRegular() {
					return nil
				}

				rel, err := filepath.Rel(root, path)
				if err != nil {
					results <- Result{Err: err}
					return nil
				}

				results <- Result{Entry: Entry{
					Path:    prefix + "/" + filepath.ToSlash(rel),
					Size:    info.Size(),
					ModTime: info.ModTime().UTC(),
					Mode:    info.Mode().Perm(),
				}}
				return nil
			})
			if err != nil && err != ctx.Err() {
				results <- Result{Err: err}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return results
}

// Collect drains Enumerate into a slice, returning the first walk error.
func (e *Enumerator) Collect(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	for res := range e.Enumerate(ctx) {
		if res.Err != nil {
			return nil, res.Err
		}
		entries = append(entries, res.Entry)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Abs maps an enumerated relative path back to its location on disk.
func (e *Enumerator) Abs(relPath string) string {
	return AbsolutePath(e.roots, relPath)
}

// AbsolutePath maps an enumerated relative path back to its location on
// disk, given the configured roots. Returns "" when no root matches.
func AbsolutePath(roots []string, relPath string) string {
	for _, root := range roots {
		prefix := filepath.Base(filepath.Clean(root)) + "/"
		if len(relPath) > len(prefix) && relPath[:len(prefix)] == prefix {
			return filepath.Join(root, filepath.FromSlash(relPath[len(prefix):]))
		}
	}
	return ""
}
