package adminapi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

// DirUploadResult is the outcome for one file of UploadDir
type DirUploadResult struct {
	Path string    `json:"path"`
	File *FileInfo `json:"file,omitempty"`
	Err  error     `json:"-"`
}

// UploadDir uploads every regular file under root whose slash-separated
// relative path matches pattern ("**" matches everything). Files are sent
// one at a time in path order; a failed file does not stop the rest.
// An invalid pattern or an unreadable root fails the whole call.
func (s *FileService) UploadDir(ctx context.Context, root, pattern string, opts UploadOptions) ([]DirUploadResult, error) {
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid upload pattern %q", pattern)
	}

	files, err := matchFiles(ctx, root, pattern)
	if err != nil {
		return nil, err
	}

	results := make([]DirUploadResult, 0, len(files))
	failed := 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		info, err := s.UploadFile(ctx, filepath.Join(root, filepath.FromSlash(rel)), opts)
		if err != nil {
			failed++
		}
		results = append(results, DirUploadResult{Path: rel, File: info, Err: err})
	}

	s.client.logger.Info("Directory upload finished",
		zap.String("root", root),
		zap.Int("files", len(results)),
		zap.Int("failed", failed))
	return results, nil
}

// matchFiles walks root concurrently and returns matching relative paths, sorted
func matchFiles(ctx context.Context, root, pattern string) ([]string, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("upload dir: %s is not a directory", root)
	}

	var (
		mu      sync.Mutex
		matches []string
	)
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ok, _ := doublestar.Match(pattern, rel); !ok {
			return nil
		}

		mu.Lock()
		matches = append(matches, rel)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(matches)
	return matches, nil
}
