//go:build linux || darwin

package segment

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// writableRegion is a MAP_SHARED read-write mapping of a whole segment file.
type writableRegion struct {
	data []byte
}

func mapWritable(f *os.File, size int64) (*writableRegion, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("segment: mmap %s: %w", f.Name(), err)
	}
	return &writableRegion{data: data}, nil
}

func (r *writableRegion) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *writableRegion) Len() int {
	return len(r.data)
}

func (r *writableRegion) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// sync flushes [from, to) to the backing file. from is rounded down to a
// page boundary as msync requires.
func (r *writableRegion) sync(from, to int64) error {
	if to > int64(len(r.data)) {
		to = int64(len(r.data))
	}
	page := int64(os.Getpagesize())
	from -= from % page
	if from >= to {
		return nil
	}
	return unix.Msync(r.data[from:to], unix.MS_SYNC)
}

func (r *writableRegion) protectReadOnly() error {
	return unix.Mprotect(r.data, unix.PROT_READ)
}

func truncateFile(f *os.File, size int64) error {
	return unix.Ftruncate(int(f.Fd()), size)
}

func syncDir(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Fsync(fd)
}
