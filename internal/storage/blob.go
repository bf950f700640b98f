package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/models"
)

// Blob key layout. Keys are deterministic so any component can rebuild
// them from IDs alone.
//
//	uploads/{job}/{ts}_original.{ext}
//	clips/{job}/{clip}.mp4
//	thumbnails/{job}/{clip}.jpg
//	subtitles/{job}/{clip}.vtt
const (
	prefixUploads    = "uploads"
	prefixClips      = "clips"
	prefixThumbnails = "thumbnails"
	prefixSubtitles  = "subtitles"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)

// Store is the local-filesystem blob store. All keys resolve inside the
// configured base directory.
type Store struct {
	box     *sandbox
	tempDir string
}

// NewStore creates a blob store rooted at the configured base directory.
func NewStore(cfg config.StorageConfig) (*Store, error) {
	box, err := newSandbox(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}

	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(box.baseDir, "tmp")
	}
	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	return &Store{box: box, tempDir: tempDir}, nil
}

// UploadKey builds the blob key for a job's original media. The timestamp
// component keeps re-uploads from silently clobbering a blob a worker may
// already be reading.
func UploadKey(jobID models.ULID, filename string, now time.Time) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s/%d_original.%s", prefixUploads, jobID, now.Unix(), ext)
}

// ClipKey builds the blob key for a compiled clip.
func ClipKey(jobID, clipID models.ULID) string {
	return fmt.Sprintf("%s/%s/%s.mp4", prefixClips, jobID, clipID)
}

// ThumbnailKey builds the blob key for a clip thumbnail.
func ThumbnailKey(jobID, clipID models.ULID) string {
	return fmt.Sprintf("%s/%s/%s.jpg", prefixThumbnails, jobID, clipID)
}

// SubtitleKey builds the blob key for a clip subtitle track.
func SubtitleKey(jobID, clipID models.ULID) string {
	return fmt.Sprintf("%s/%s/%s.vtt", prefixSubtitles, jobID, clipID)
}

// ValidateKey rejects keys that could not have been produced by the key
// builders. The sandbox would catch traversal anyway; this fails earlier
// with a clearer error.
func ValidateKey(key string) error {
	if key == "" || len(key) > 512 {
		return fmt.Errorf("invalid blob key length")
	}
	if !keyPattern.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("invalid blob key: %s", key)
	}
	return nil
}

// Put streams a blob into the store, atomically. Returns bytes written.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.box.atomicWriteReader(key, r)
}

// Publish moves a finished file from an external path into the store.
// The source is consumed.
func (s *Store) Publish(srcPath, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.box.atomicPublish(srcPath, key)
}

// Open returns a reader over the blob. The caller closes it.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.box.open(key)
}

// Download copies a blob into destDir and returns the local path. Used by
// workers to hand media files to ffmpeg.
func (s *Store) Download(ctx context.Context, key, destDir string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := s.box.open(key)
	if err != nil {
		return "", err
	}
	defer src.Close()

	destPath := filepath.Join(destDir, filepath.Base(key))
	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return "", fmt.Errorf("creating destination: %w", err)
	}

	_, err = io.Copy(dest, src)
	closeErr := dest.Close()
	if err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("copying blob: %w", err)
	}
	if closeErr != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("closing destination: %w", closeErr)
	}
	return destPath, nil
}

// Exists reports whether a blob is present.
func (s *Store) Exists(key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	return s.box.exists(key)
}

// Size returns the byte size of a blob.
func (s *Store) Size(key string) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	info, err := s.box.stat(key)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// WorkDir creates a fresh scratch directory for a job run. The caller
// removes it when the run finishes.
func (s *Store) WorkDir(jobID models.ULID) (string, error) {
	dir, err := os.MkdirTemp(s.tempDir, "job-"+jobID.String()+"-")
	if err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}
	return dir, nil
}

// DeleteJob removes every blob owned by a job across all prefixes.
func (s *Store) DeleteJob(jobID models.ULID) error {
	var firstErr error
	for _, prefix := range []string{prefixUploads, prefixClips, prefixThumbnails, prefixSubtitles} {
		if err := s.box.removeAll(prefix + "/" + jobID.String()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
