package archive

import "errors"

var (
	// ErrNoRaster means the archive held no file with the raster extension.
	// The archive is kept and the run carries on.
	ErrNoRaster = errors.New("no raster in archive")
	// ErrUnsafePath rejects entries that would land outside the extraction dir.
	ErrUnsafePath = errors.New("archive entry escapes extraction dir")
)
