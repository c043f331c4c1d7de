// Package firmware reads firmware containers into lazy sequences of
// partition images.
//
// Two container shapes are supported: a TAR archive (optionally
// gzip-compressed) whose entries are named partition images, and a raw
// single-image file whose target partition is supplied by the caller.
// A detached checksum file beside an archive covers the whole container
// and is verified before any entry is exposed.
//
// Image data is streamed forward-only: containers may be larger than
// memory, so callers must not assume random access, and an image's
// stream is invalidated by advancing to the next one.
package firmware

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Image is one partition image yielded by a container.
type Image struct {
	// Name is the image's name within the container (the target
	// partition is resolved from it, or supplied by the caller for raw
	// images)
	Name string

	// Size is the declared byte count; the stream yields exactly this
	// many bytes or fails with an integrity error
	Size int64

	r *sizeReader
}

// Read streams the image data. It returns an error wrapping
// ErrIntegrityCheckFailed if the underlying container yields fewer
// bytes than the declared size.
func (img *Image) Read(p []byte) (int, error) {
	return img.r.Read(p)
}

type containerKind int

const (
	kindArchive containerKind = iota
	kindRaw
)

// Package is an open firmware container.
type Package struct {
	path string
	kind containerKind

	file *os.File
	gz   *gzip.Reader
	tr   *tar.Reader

	rawName string
	rawDone bool
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	skipVerify bool
}

// WithoutVerification skips the detached checksum check. Meant for
// callers that have already verified the container in the same job.
func WithoutVerification() Option {
	return func(c *openConfig) {
		c.skipVerify = true
	}
}

// Open opens an archive container. The detached checksum, when present
// beside the container, is verified over the full byte stream first;
// failure yields zero images. Supported names: .tar, .tar.md5 (a plain
// TAR under the Samsung naming convention), .tar.gz, .tgz.
func Open(path string, opts ...Option) (*Package, error) {
	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if !isArchivePath(path) {
		return nil, fmt.Errorf("%s: not a recognized firmware container (expected .tar, .tar.md5, .tar.gz or .tgz)", path)
	}

	if !cfg.skipVerify {
		if err := Verify(path); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}

	p := &Package{path: path, kind: kindArchive, file: f}

	if strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz") {
		p.gz, err = gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open container: %w", err)
		}
		p.tr = tar.NewReader(p.gz)
	} else {
		p.tr = tar.NewReader(f)
	}

	return p, nil
}

// OpenRaw opens a single raw image file as a one-image package targeting
// the named partition. The declared size is the file's current size.
func OpenRaw(path, partitionName string) (*Package, error) {
	if partitionName == "" {
		return nil, fmt.Errorf("%s: raw image requires a target partition name", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	return &Package{path: path, kind: kindRaw, file: f, rawName: partitionName}, nil
}

// Next yields the next image in the container, or io.EOF when the
// container is exhausted. Advancing invalidates the previous image's
// stream.
func (p *Package) Next() (*Image, error) {
	switch p.kind {
	case kindRaw:
		if p.rawDone {
			return nil, io.EOF
		}
		p.rawDone = true

		info, err := p.file.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat image: %w", err)
		}
		return &Image{
			Name: p.rawName,
			Size: info.Size(),
			r:    newSizeReader(p.file, p.rawName, info.Size()),
		}, nil

	default:
		for {
			hdr, err := p.tr.Next()
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			if err != nil {
				return nil, &IntegrityError{Name: p.path, Reason: fmt.Sprintf("corrupt archive: %v", err)}
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}

			name := filepath.Base(hdr.Name)
			return &Image{
				Name: name,
				Size: hdr.Size,
				r:    newSizeReader(p.tr, name, hdr.Size),
			}, nil
		}
	}
}

// Find advances the container until it yields the named image. Images
// before it are skipped and cannot be revisited on this Package.
func (p *Package) Find(name string) (*Image, error) {
	for {
		img, err := p.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("image %q not found in %s", name, p.path)
		}
		if err != nil {
			return nil, err
		}
		if img.Name == name {
			return img, nil
		}
	}
}

// Close releases the container.
func (p *Package) Close() error {
	if p.gz != nil {
		_ = p.gz.Close()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

func isArchivePath(path string) bool {
	for _, suffix := range []string{".tar", ".tar.md5", ".tar.gz", ".tgz"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// sizeReader enforces the declared-size invariant incrementally: a
// source that runs out before size bytes, or that still has data after
// them, fails with an integrity error instead of a silently wrong
// stream.
type sizeReader struct {
	src       io.Reader
	name      string
	remaining int64
	drained   bool
}

func newSizeReader(src io.Reader, name string, size int64) *sizeReader {
	return &sizeReader{src: src, name: name, remaining: size}
}

func (r *sizeReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		if !r.drained {
			r.drained = true
			var extra [1]byte
			if n, _ := r.src.Read(extra[:]); n > 0 {
				return 0, &IntegrityError{
					Name:   r.name,
					Reason: "stream continues past declared size",
				}
			}
		}
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}

	n, err := r.src.Read(p)
	r.remaining -= int64(n)

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if r.remaining > 0 {
			return n, &IntegrityError{
				Name:   r.name,
				Reason: fmt.Sprintf("stream ended %d bytes short of declared size", r.remaining),
			}
		}
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}
