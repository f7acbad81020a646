package scanner

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"sql-guard/internal/model"
)

func TestFileWalker_Walk(t *testing.T) {
	rootDir := t.TempDir()

	files := []string{
		"main.go",
		"main.py",
		"main_test.go",
		"test.js",
		"ignored.txt",
		"sub/sub.go",
		"sub/ignore_dir/file.go",
		"vendor/vendor.go",
		".git/hooks/pre-commit.go",
	}

	for _, f := range files {
		path := filepath.Join(rootDir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("package main"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name     string
		exts     []string
		excludes []string
		want     []string
	}{
		{
			name:     "Find Go files",
			exts:     []string{"go"},
			excludes: []string{"vendor", "ignore_dir", "*_test.go"},
			want:     []string{"main.go", "sub/sub.go"},
		},
		{
			name:     "Find Go and Py files",
			exts:     []string{"go", ".py"},
			excludes: []string{"vendor", "ignore_dir", "*_test.go"},
			want:     []string{"main.go", "main.py", "sub/sub.go"},
		},
		{
			name:     "No excludes",
			exts:     []string{"go"},
			excludes: nil,
			want:     []string{"main.go", "main_test.go", "sub/ignore_dir/file.go", "sub/sub.go", "vendor/vendor.go"},
		},
		{
			name:     "Exclude is a path component, not a substring",
			exts:     []string{"go"},
			excludes: []string{"su"},
			want:     []string{"main.go", "main_test.go", "sub/ignore_dir/file.go", "sub/sub.go", "vendor/vendor.go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			walker := NewFileWalker(tt.exts, tt.excludes)

			paths, errs := walker.Walk(context.Background(), rootDir)

			var gotRel []string
			for p := range paths {
				rel, err := filepath.Rel(rootDir, p)
				if err != nil {
					t.Fatalf("Rel error: %v", err)
				}
				gotRel = append(gotRel, filepath.ToSlash(rel))
			}
			if err := <-errs; err != nil {
				t.Fatalf("Walk error: %v", err)
			}

			sort.Strings(gotRel)
			if !reflect.DeepEqual(gotRel, tt.want) {
				t.Errorf("%s: Walk() got %v, want %v", tt.name, gotRel, tt.want)
			}
		})
	}
}

func TestFileWalker_MissingRoot(t *testing.T) {
	paths, errs := NewFileWalker([]string{"go"}, nil).Walk(context.Background(), filepath.Join(t.TempDir(), "nope"))
	for range paths {
	}
	if err := <-errs; err == nil {
		t.Error("expected an error for a missing root")
	}
}

func TestWorkerPool_Start(t *testing.T) {
	mockProc := func(path string) ([]model.SQLSegment, error) {
		return []model.SQLSegment{{SQL: "SELECT 1"}}, nil
	}

	pool := NewWorkerPool(2, mockProc)
	paths := make(chan string, 5)

	for i := 0; i < 5; i++ {
		paths <- "dummy_path"
	}
	close(paths)

	results := pool.Start(context.Background(), paths)

	count := 0
	for res := range results {
		if res.Error != nil {
			t.Errorf("WorkerPool error: %v", res.Error)
		}
		if len(res.Segments) != 1 {
			t.Errorf("Expected 1 segment, got %d", len(res.Segments))
		}
		count++
	}

	if count != 5 {
		t.Errorf("Expected 5 results, got %d", count)
	}
}

func TestWorkerPool_ZeroConcurrency(t *testing.T) {
	pool := NewWorkerPool(0, func(string) ([]model.SQLSegment, error) { return nil, nil })
	if pool.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", pool.Concurrency)
	}
}
