// Package blob stores uploaded voice notes in a local directory.
package blob

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrTooLarge = errors.New("blob: upload exceeds size limit")
	ErrBadName  = errors.New("blob: invalid name")
)

// LocalStore writes files under Dir and serves them below PublicPath.
type LocalStore struct {
	dir        string
	publicPath string
	maxBytes   int64
	logger     *slog.Logger
}

func NewLocalStore(logger *slog.Logger, dir, publicPath string, maxBytes int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{
		dir:        dir,
		publicPath: "/" + strings.Trim(publicPath, "/"),
		maxBytes:   maxBytes,
		logger:     logger.With(slog.String("component", "blob_store")),
	}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) PublicPath() string { return s.publicPath }

// Save copies r into a fresh file keeping the original extension and returns its public URL.
func (s *LocalStore) Save(originalName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if len(ext) > 10 {
		ext = ""
	}
	name := uuid.NewString() + ext
	full := filepath.Join(s.dir, name)

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(full)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write blob: %w", err)
	}

	s.logger.Debug("Blob saved", slog.String("name", name), slog.Int64("bytes", n))
	return path.Join(s.publicPath, name), nil
}

// Delete removes the file behind a URL returned by Save. Missing files are not an error.
func (s *LocalStore) Delete(url string) error {
	prefix := s.publicPath + "/"
	if !strings.HasPrefix(url, prefix) {
		return ErrBadName
	}
	name := strings.TrimPrefix(url, prefix)
	if name == "" || name != path.Base(name) || strings.Contains(name, "..") || strings.ContainsRune(name, '\\') {
		return ErrBadName
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
