package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/imyashkale/spun/internal/logger"
	"github.com/klauspost/compress/gzip"
)

// DefaultMaxExtractedBytes caps the unpacked size of one archive
const DefaultMaxExtractedBytes = 1 << 30

var (
	// ErrUnsafePath is returned for entries that would land outside the
	// destination directory
	ErrUnsafePath = errors.New("archive entry escapes destination")

	// ErrTooLarge is returned when the unpacked archive exceeds its limit
	ErrTooLarge = errors.New("archive expands beyond size limit")
)

// Extractor unpacks a source archive into a directory
type Extractor interface {
	Extract(ctx context.Context, r io.Reader, dest string) error
}

// TarGz extracts gzip compressed tarballs
type TarGz struct {
	maxBytes int64
}

// NewTarGz creates an extractor that refuses archives unpacking to more
// than maxBytes; zero means DefaultMaxExtractedBytes
func NewTarGz(maxBytes int64) *TarGz {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxExtractedBytes
	}
	return &TarGz{maxBytes: maxBytes}
}

// IsPlatformMetadata reports whether an entry is an OS metadata artifact,
// such as AppleDouble files, that breaks some build tools
func IsPlatformMetadata(name string) bool {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	for _, part := range strings.Split(name, "/") {
		if part == "__MACOSX" || part == ".DS_Store" || strings.HasPrefix(part, "._") {
			return true
		}
	}
	return false
}

// Extract unpacks r into dest, which must already exist
func (x *TarGz) Extract(ctx context.Context, r io.Reader, dest string) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()

	root, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dest, err)
	}

	tr := tar.NewReader(zr)
	var written int64
	var skipped int

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		if IsPlatformMetadata(hdr.Name) {
			skipped++
			continue
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if _, err := confine(root, target); err != nil {
				return fmt.Errorf("%w: %s", err, hdr.Name)
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if _, err := confine(root, filepath.Dir(target)); err != nil {
				return fmt.Errorf("%w: %s", err, hdr.Name)
			}
			if err := dropLink(target); err != nil {
				return fmt.Errorf("failed to replace %s: %w", hdr.Name, err)
			}
			n, err := writeFile(target, tr, hdr.FileInfo().Mode().Perm(), x.maxBytes-written)
			written += n
			if err != nil {
				return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			parent, err := confine(root, filepath.Dir(target))
			if err != nil {
				return fmt.Errorf("%w: %s", err, hdr.Name)
			}
			if err := checkLink(root, parent, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", hdr.Name, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to link %s: %w", hdr.Name, err)
			}
		default:
			// hard links, devices and fifos have no place in app sources
			skipped++
		}
	}

	logger.WithFields(map[string]interface{}{
		"dest":    dest,
		"bytes":   written,
		"skipped": skipped,
	}).Debug("Archive extracted")
	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, budget+1))
	if err != nil {
		return n, err
	}
	if n > budget {
		return n, ErrTooLarge
	}
	return n, nil
}

// safeJoin resolves an entry name under dest
func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dest, name)
	if !within(dest, target) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// checkLink refuses symlinks that point outside root. parent is the
// physical directory the link is created in.
func checkLink(root, parent, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("%w: link to %s", ErrUnsafePath, linkname)
	}
	if !within(root, filepath.Join(parent, linkname)) {
		return fmt.Errorf("%w: link to %s", ErrUnsafePath, linkname)
	}
	return nil
}

// confine resolves the deepest existing ancestor of p through any symlinks
// already extracted and returns the physical path of the nearest existing
// directory. Components that do not exist yet are created by MkdirAll and
// cannot redirect the write.
func confine(root, p string) (string, error) {
	dir := p
	for {
		real, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if !within(root, real) {
				return "", ErrUnsafePath
			}
			rest, _ := filepath.Rel(dir, p)
			return filepath.Join(real, rest), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		up := filepath.Dir(dir)
		if up == dir {
			return "", err
		}
		dir = up
	}
}

// dropLink removes an extracted symlink at target so a regular file entry
// replaces it instead of writing through it
func dropLink(target string) error {
	info, err := os.Lstat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return os.Remove(target)
	}
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
