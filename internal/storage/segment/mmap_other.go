//go:build !linux && !darwin

package segment

import (
	"errors"
	"io"
	"os"
)

var errMmapUnsupported = errors.New("segment: writable mappings are not supported on this platform")

type writableRegion struct {
	data []byte
}

func mapWritable(*os.File, int64) (*writableRegion, error) {
	return nil, errMmapUnsupported
}

func (r *writableRegion) ReadAt([]byte, int64) (int, error) { return 0, io.EOF }
func (r *writableRegion) Len() int                          { return len(r.data) }
func (r *writableRegion) Close() error                      { return nil }
func (r *writableRegion) sync(int64, int64) error           { return errMmapUnsupported }
func (r *writableRegion) protectReadOnly() error            { return errMmapUnsupported }

func truncateFile(f *os.File, size int64) error {
	return f.Truncate(size)
}

func syncDir(string) error {
	return nil
}
