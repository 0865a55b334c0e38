// Package scanner walks a local folder tree in parallel, hashing every file
// with a streaming SHA-256 and classifying it against a prior version's
// file list so the engine knows what changed since the last index.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DefaultWorkerCount is the default number of concurrent hashing workers.
const DefaultWorkerCount = 4

// hashBlockSize is the streaming read chunk size used while hashing a file.
const hashBlockSize = 64 * 1024

// FileDescriptor describes one regular file discovered under a folder root.
type FileDescriptor struct {
	// RelativePath is the file's path relative to the folder root, using
	// forward slashes regardless of host OS.
	RelativePath string
	AbsolutePath string
	Size         int64
	ContentHash  string // 64 lowercase hex characters
	ModTime      int64  // unix seconds, for diagnostics only; not part of any invariant
}

// Config controls a Scan invocation.
type Config struct {
	// Workers bounds the number of files hashed concurrently. Zero means
	// DefaultWorkerCount.
	Workers int
}

// Scan walks root and returns a FileDescriptor for every regular file
// found, each with a streaming SHA-256 over its full content. Symlinks are
// not followed. Files are walked in parallel up to Config.Workers; the
// returned slice order is not guaranteed to match directory order.
func Scan(ctx context.Context, root string, cfg Config) ([]FileDescriptor, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkerCount
	}

	paths := make(chan string)
	results := make(chan scanResult)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				desc, err := hashFile(root, path)
				select {
				case results <- scanResult{desc: desc, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	walkErrCh := make(chan error, 1)
	go func() {
		defer close(paths)
		walkErrCh <- filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			select {
			case paths <- path:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var out []FileDescriptor
	for r := range results {
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, r.desc)
	}
	if err := <-walkErrCh; err != nil {
		return nil, err
	}
	return out, nil
}

type scanResult struct {
	desc FileDescriptor
	err  error
}

func hashFile(root, path string) (FileDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileDescriptor{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileDescriptor{}, err
	}

	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return FileDescriptor{}, err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return FileDescriptor{}, err
	}

	return FileDescriptor{
		RelativePath: filepath.ToSlash(rel),
		AbsolutePath: path,
		Size:         info.Size(),
		ContentHash:  hex.EncodeToString(h.Sum(nil)),
		ModTime:      info.ModTime().Unix(),
	}, nil
}
