package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"sql-guard/internal/model"
)

// FileWalker streams the paths of files with a supported extension,
// skipping hidden directories and excluded paths.
type FileWalker struct {
	Extensions map[string]struct{}
	Excludes   []string
}

func NewFileWalker(exts []string, excludes []string) *FileWalker {
	e := make(map[string]struct{})
	for _, ext := range exts {
		e[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return &FileWalker{
		Extensions: e,
		Excludes:   excludes,
	}
}

// excluded reports whether an exclude pattern matches the base name
// (glob) or appears as a path component.
func (fw *FileWalker) excluded(path, name string) bool {
	slashed := filepath.ToSlash(path)
	for _, exclude := range fw.Excludes {
		if matched, _ := filepath.Match(exclude, name); matched {
			return true
		}
		if !strings.ContainsAny(exclude, "*?[") && strings.Contains("/"+slashed+"/", "/"+exclude+"/") {
			return true
		}
	}
	return false
}

// Walk starts the traversal and returns a channel of file paths.
// It runs in a separate goroutine and closes the channel when done.
func (fw *FileWalker) Walk(ctx context.Context, root string) (<-chan string, <-chan error) {
	paths := make(chan string, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(paths)
		defer close(errs)

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if d.IsDir() {
				if path == root {
					return nil
				}
				if strings.HasPrefix(d.Name(), ".") || fw.excluded(path, d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}

			if fw.excluded(path, d.Name()) {
				return nil
			}

			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
			if _, ok := fw.Extensions[ext]; ok {
				select {
				case paths <- path:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})

		if err != nil {
			errs <- err
		}
	}()

	return paths, errs
}

// FileResult is the extraction outcome of one file. Error is set when the
// file could not be read or its statements could not be extracted.
type FileResult struct {
	File     string
	Segments []model.SQLSegment
	Error    error
}

// ExtractFunc extracts the SQL segments of one file.
type ExtractFunc func(path string) ([]model.SQLSegment, error)

// WorkerPool runs an ExtractFunc over a stream of paths with bounded concurrency.
type WorkerPool struct {
	Concurrency int
	Extract     ExtractFunc
}

func NewWorkerPool(concurrency int, extract ExtractFunc) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &WorkerPool{
		Concurrency: concurrency,
		Extract:     extract,
	}
}

// Start consumes paths until the channel closes or ctx is done. The
// returned channel is closed once every worker has exited.
func (wp *WorkerPool) Start(ctx context.Context, paths <-chan string) <-chan FileResult {
	results := make(chan FileResult)
	var wg sync.WaitGroup

	for i := 0; i < wp.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				select {
				case <-ctx.Done():
					return
				default:
				}
				segs, err := wp.Extract(path)
				// extraction errors are reported, not dropped
				select {
				case results <- FileResult{File: path, Segments: segs, Error: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}
