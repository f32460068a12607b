package chunkstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wan13323312/cloud-drive/internal"
)

// POSIXBackend stores chunk payloads on a local filesystem under
// root/<hh>/<hash>, where hh is the first two hex characters of the hash.
type POSIXBackend struct {
	root string
}

var _ BlobBackend = (*POSIXBackend)(nil)

func NewPOSIXBackend(root string) *POSIXBackend {
	return &POSIXBackend{root: root}
}

func (p *POSIXBackend) Name() string {
	return BackendPOSIX
}

func (p *POSIXBackend) EnsureContainer(ctx context.Context) error {
	return os.MkdirAll(p.root, 0750)
}

func (p *POSIXBackend) Location(hash string) string {
	return filepath.Join(p.root, shardOf(hash), hash)
}

func (p *POSIXBackend) Upload(ctx context.Context, hash string, data []byte) (string, error) {
	path := p.Location(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("failed to create shard directory %s: %w", filepath.Dir(path), err)
	}

	filer, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}
	if _, err = internal.WriteAll(filer, data); err != nil {
		filer.Close()
		os.Remove(path)
		return "", err
	}
	if err = filer.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (p *POSIXBackend) Download(ctx context.Context, hash string) ([]byte, error) {
	data, err := os.ReadFile(p.Location(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, hash)
		}
		return nil, err
	}
	return data, nil
}

func (p *POSIXBackend) Delete(ctx context.Context, hash string) error {
	err := os.Remove(p.Location(hash))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List walks the shard tree and returns every regular file name found.
func (p *POSIXBackend) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == p.root {
				return filepath.SkipAll // empty store
			}
			return err
		}
		if !d.IsDir() {
			names = append(names, d.Name())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
