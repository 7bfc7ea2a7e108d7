// Package archive extracts the delivered raster from an order archive.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/okian/atlasbatch/pkg/logger"
)

const defaultExtension = ".TIF"

// Unpacker pulls the largest raster out of a ZIP archive.
type Unpacker struct {
	extension     string
	deleteArchive bool
	log           logger.Logger
}

// Option configures an Unpacker.
type Option func(*Unpacker)

// WithExtension sets the raster extension, matched case-insensitively.
func WithExtension(ext string) Option {
	return func(u *Unpacker) {
		if ext != "" {
			u.extension = ext
		}
	}
}

// WithDeleteArchive removes the archive after a successful extraction.
func WithDeleteArchive(enabled bool) Option {
	return func(u *Unpacker) {
		u.deleteArchive = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(u *Unpacker) {
		if l != nil {
			u.log = l
		}
	}
}

// New returns an Unpacker for .TIF rasters that keeps archives.
func New(opts ...Option) *Unpacker {
	u := &Unpacker{
		extension: defaultExtension,
		log:       logger.Get().Named("archive"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Unpack extracts archivePath into a temporary sibling directory, copies the
// largest raster to targetDir as <stem>_<suffix><ext> and returns its path.
// The temporary directory is always removed. With no raster it returns
// ErrNoRaster and leaves the archive in place.
func (u *Unpacker) Unpack(ctx context.Context, archivePath, targetDir, suffix string) (string, error) {
	tmp, err := os.MkdirTemp(filepath.Dir(archivePath), ".unpack-*")
	if err != nil {
		return "", fmt.Errorf("create extraction dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			u.log.Warn(ctx, "remove extraction dir", logger.String("dir", tmp), logger.Error(err))
		}
	}()

	if err := extract(ctx, archivePath, tmp); err != nil {
		return "", err
	}

	src, size, err := u.largest(tmp)
	if err != nil {
		return "", err
	}
	if src == "" {
		return "", fmt.Errorf("%s: %w", archivePath, ErrNoRaster)
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", targetDir, err)
	}
	ext := filepath.Ext(src)
	stem := strings.TrimSuffix(filepath.Base(src), ext)
	dst := filepath.Join(targetDir, fmt.Sprintf("%s_%s%s", stem, suffix, ext))
	if err := copyFile(src, dst); err != nil {
		return "", err
	}

	if u.deleteArchive {
		if err := os.Remove(archivePath); err != nil {
			u.log.Warn(ctx, "remove archive", logger.String("archive", archivePath), logger.Error(err))
		}
	}
	u.log.Info(ctx, "raster extracted",
		logger.String("archive", archivePath),
		logger.String("raster", dst),
		logger.Int64("bytes", size))
	return dst, nil
}

// largest walks root in lexical order; the first of equal sizes wins.
func (u *Unpacker) largest(root string) (string, int64, error) {
	var (
		best     string
		bestSize int64 = -1
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), u.extension) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > bestSize {
			best, bestSize = path, info.Size()
		}
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("scan extracted files: %w", err)
	}
	return best, bestSize, nil
}

func extract(ctx context.Context, archivePath, dir string) error {
	r, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = r.Close()
		return fmt.Errorf("open archive %s: %w", archivePath, ErrUnsafePath)
	}
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractFile(f, dir); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, dir string) error {
	target := filepath.Join(dir, filepath.FromSlash(f.Name))
	if target != dir && !strings.HasPrefix(target, dir+string(os.PathSeparator)) {
		return ErrUnsafePath
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec // target checked above
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, rc) //nolint:gosec // archives come from the imagery provider
	return errors.Join(copyErr, out.Close())
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // walked from our own extraction dir
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) //nolint:gosec // built from config and archive entry name
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
