package logstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/florinutz/deltashare/sharingerr"
)

// Local reads logs from the local filesystem. Locations are plain paths or
// file:// URLs.
type Local struct{}

func (s *Local) List(_ context.Context, location string, from int64) (Listing, error) {
	dir, err := localLogDir(location)
	if err != nil {
		return Listing{}, err
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Listing{}, &sharingerr.NotFoundError{Kind: "table log", Name: location}
		}
		return Listing{}, fmt.Errorf("list %s: %w", dir, err)
	}

	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Listing{}, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		entries = append(entries, entry{name: de.Name(), size: info.Size(), modTime: info.ModTime().UnixMilli()})
	}
	return buildListing(entries, from), nil
}

func (s *Local) Open(_ context.Context, location, name string) (Segment, error) {
	dir, err := localLogDir(location)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, filepath.Base(name))
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &sharingerr.NotFoundError{Kind: "log segment", Name: path}
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &fileSegment{File: f, size: info.Size()}, nil
}

// Write stores a log file atomically via a temporary file and rename.
func (s *Local) Write(_ context.Context, location, name string, data []byte) error {
	dir, err := localLogDir(location)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

type fileSegment struct {
	*os.File
	size int64
}

func (s *fileSegment) Size() int64 { return s.size }

// LocalPath returns the filesystem path of a local table location.
func LocalPath(location string) (string, error) {
	if !strings.HasPrefix(location, "file:") {
		return filepath.Clean(location), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", location, err)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("location %q: remote file host not supported", location)
	}
	return filepath.FromSlash(u.Path), nil
}

func localLogDir(location string) (string, error) {
	root, err := LocalPath(location)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, LogDir), nil
}
