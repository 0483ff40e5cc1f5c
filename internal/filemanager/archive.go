package filemanager

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/pathguard"
	"github.com/ashureev/shsh-panel/internal/quota"
)

// Archive formats.
const (
	FormatZip   = "zip"
	FormatTar   = "tar"
	FormatTarGz = "tar.gz"
)

// ExtractResult summarizes an extraction.
type ExtractResult struct {
	Destination string `json:"destination"`
	Files       int    `json:"files"`
	Directories int    `json:"directories"`
	Bytes       int64  `json:"bytes"`
}

// formatFromName infers the archive format from a file name.
func formatFromName(name string) (string, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, true
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, true
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, true
	}
	return "", false
}

func normalizeFormat(format, dest string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "":
		if f, ok := formatFromName(dest); ok {
			return f, nil
		}
		return FormatZip, nil
	case "zip":
		return FormatZip, nil
	case "tar":
		return FormatTar, nil
	case "tar.gz", "tgz", "gzip":
		return FormatTarGz, nil
	}
	return "", domain.Validation("unsupported archive format %q", format)
}

// Compress packs paths into a new archive at dest. Each source is stored
// under its base name. The combined source size is charged against the
// quota as an upper bound of the archive size.
func (s *Service) Compress(ctx context.Context, tenant *domain.Tenant, paths []string, dest, format string) (*FileInfo, error) {
	if len(paths) == 0 {
		return nil, domain.Validation("paths is required")
	}
	if err := required("destination", dest); err != nil {
		return nil, err
	}
	format, err := normalizeFormat(format, dest)
	if err != nil {
		return nil, err
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}

	sources := make([]string, 0, len(paths))
	var total int64
	for _, p := range paths {
		if err := required("path", p); err != nil {
			return nil, err
		}
		src, err := resolve(root, p)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(src); err != nil {
			return nil, fsError("stat", p, err)
		}
		size, err := quota.TreeSize(ctx, src)
		if err != nil {
			return nil, domain.Wrap(domain.KindExecution, "measure source", err)
		}
		total += size
		sources = append(sources, src)
	}

	target, err := resolve(root, dest)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(target); err == nil {
		return nil, domain.Validation("destination already exists: %s", display(root, target))
	}
	if err := s.guard.Check(ctx, tenant, total); err != nil {
		return nil, err
	}
	uid, gid, err := s.owner(tenant)
	if err != nil {
		return nil, err
	}

	skip := tempPrefix(target)
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeArchive(ctx, pw, format, sources, skip))
	}()
	_, err = atomicWrite(target, pr, 0o644, 0, uid, gid)
	_ = pr.Close()
	if err != nil {
		return nil, fsError("compress", display(root, target), err)
	}

	slog.Info("Archive created", "tenant_id", tenant.TenantID, "path", display(root, target), "format", format, "sources", len(sources))
	return s.stat(root, target)
}

// archiveEntry is one filesystem node to be archived.
type archiveEntry struct {
	path string
	name string
	info fs.FileInfo
}

// walkSources visits every node under sources, naming each by its source's
// base name plus the relative path. Paths starting with skip are ignored.
func walkSources(ctx context.Context, sources []string, skip string, fn func(archiveEntry) error) error {
	for _, src := range sources {
		base := filepath.Base(src)
		err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if strings.HasPrefix(p, skip) {
				return nil
			}
			rel, err := filepath.Rel(src, p)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return fn(archiveEntry{path: p, name: path.Join(base, filepath.ToSlash(rel)), info: info})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func writeArchive(ctx context.Context, w io.Writer, format string, sources []string, skip string) error {
	switch format {
	case FormatZip:
		return writeZip(ctx, w, sources, skip)
	case FormatTar:
		return writeTar(ctx, w, sources, skip)
	case FormatTarGz:
		gz := gzip.NewWriter(w)
		if err := writeTar(ctx, gz, sources, skip); err != nil {
			return err
		}
		return gz.Close()
	}
	return fmt.Errorf("unsupported archive format %q", format)
}

// writeZip stores directories and regular files. Symlinks are skipped.
func writeZip(ctx context.Context, w io.Writer, sources []string, skip string) error {
	zw := zip.NewWriter(w)
	err := walkSources(ctx, sources, skip, func(e archiveEntry) error {
		if !e.info.IsDir() && !e.info.Mode().IsRegular() {
			return nil
		}
		hdr, err := zip.FileInfoHeader(e.info)
		if err != nil {
			return err
		}
		hdr.Name = e.name
		if e.info.IsDir() {
			hdr.Name += "/"
			_, err = zw.CreateHeader(hdr)
			return err
		}
		hdr.Method = zip.Deflate
		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		return copyFrom(dst, e.path)
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

// writeTar stores directories, regular files and symlinks.
func writeTar(ctx context.Context, w io.Writer, sources []string, skip string) error {
	tw := tar.NewWriter(w)
	err := walkSources(ctx, sources, skip, func(e archiveEntry) error {
		var link string
		switch {
		case e.info.Mode()&fs.ModeSymlink != 0:
			l, err := os.Readlink(e.path)
			if err != nil {
				return err
			}
			link = l
		case e.info.IsDir(), e.info.Mode().IsRegular():
		default:
			return nil
		}
		hdr, err := tar.FileInfoHeader(e.info, link)
		if err != nil {
			return err
		}
		hdr.Name = e.name
		if e.info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uname, hdr.Gname = "", ""
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if e.info.Mode().IsRegular() {
			return copyFrom(tw, e.path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

func copyFrom(w io.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// memberKind classifies archive members.
type memberKind int

const (
	memberFile memberKind = iota
	memberDir
	memberLink
	memberOther
)

// member is an archive entry header, independent of the archive format.
type member struct {
	name string
	kind memberKind
	mode fs.FileMode
	size int64
}

// memberFunc is called for each archive member; body is nil for
// directories.
type memberFunc func(m member, body io.Reader) error

// Extract unpacks an archive into dest, or next to the archive when dest is
// empty. Entries that would land outside dest and link entries are refused
// before anything is written. The total uncompressed size is charged
// against the quota.
func (s *Service) Extract(ctx context.Context, tenant *domain.Tenant, archivePath, dest string) (*ExtractResult, error) {
	if err := required("archive_path", archivePath); err != nil {
		return nil, err
	}
	format, ok := formatFromName(archivePath)
	if !ok {
		return nil, domain.Validation("unsupported archive type: %s", archivePath)
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	archive, err := resolve(root, archivePath)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(archive); err != nil {
		return nil, fsError("stat", archivePath, err)
	} else if !info.Mode().IsRegular() {
		return nil, domain.Validation("not a regular file: %s", archivePath)
	}

	target := filepath.Dir(archive)
	if dest != "" {
		if target, err = resolve(root, dest); err != nil {
			return nil, err
		}
	}
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		return nil, domain.Validation("not a directory: %s", display(root, target))
	}

	// First pass: validate names and measure.
	var total int64
	err = iterateArchive(ctx, archive, format, func(m member, _ io.Reader) error {
		if m.kind == memberLink || m.kind == memberOther {
			return domain.AccessDenied("archive contains link or special entry: %s", m.name)
		}
		if _, err := memberPath(target, m.name); err != nil {
			return err
		}
		total += m.size
		return nil
	})
	if err != nil {
		return nil, archiveError(archivePath, err)
	}
	if err := s.guard.Check(ctx, tenant, total); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fsError("mkdir", display(root, target), err)
	}
	result := &ExtractResult{Destination: display(root, target)}
	err = iterateArchive(ctx, archive, format, func(m member, body io.Reader) error {
		p, err := memberPath(target, m.name)
		if err != nil {
			return err
		}
		// An existing symlink inside dest must not redirect the write.
		if p, err = pathguard.Canonicalize(p, root); err != nil {
			return err
		}
		if m.kind == memberDir {
			result.Directories++
			return os.MkdirAll(p, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		n, err := writeMember(p, body, m)
		result.Files++
		result.Bytes += n
		return err
	})
	if err != nil {
		return nil, archiveError(archivePath, err)
	}
	if err := s.chownTree(tenant, target); err != nil {
		return nil, fsError("chown", display(root, target), err)
	}

	slog.Info("Archive extracted", "tenant_id", tenant.TenantID, "archive", display(root, archive), "destination", result.Destination, "files", result.Files, "bytes", result.Bytes)
	return result, nil
}

// memberPath maps an entry name under dest, refusing names that escape it.
func memberPath(dest, name string) (string, error) {
	p := pathguard.Clean(dest + "/" + filepath.ToSlash(name))
	if !pathguard.Within(p, dest) {
		return "", domain.AccessDenied("archive entry escapes destination: %s", name)
	}
	return p, nil
}

func writeMember(p string, body io.Reader, m member) (int64, error) {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, m.mode.Perm()|0o600)
	if err != nil {
		return 0, err
	}
	// Declared sizes are trusted for the quota; reading past them is an error.
	n, err := io.Copy(f, io.LimitReader(body, m.size+1))
	if err == nil && n > m.size {
		err = fmt.Errorf("entry %s larger than declared", m.name)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

func archiveError(name string, err error) error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	if errors.Is(err, zip.ErrFormat) || errors.Is(err, tar.ErrHeader) || errors.Is(err, gzip.ErrHeader) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.Validation("invalid archive %s: %v", name, err)
	}
	return fsError("extract", name, err)
}

func iterateArchive(ctx context.Context, archive, format string, fn memberFunc) error {
	switch format {
	case FormatZip:
		return iterateZip(ctx, archive, fn)
	case FormatTar, FormatTarGz:
		f, err := os.Open(archive)
		if err != nil {
			return err
		}
		defer f.Close()
		var r io.Reader = f
		if format == FormatTarGz {
			gz, err := gzip.NewReader(f)
			if err != nil {
				return err
			}
			defer gz.Close()
			r = gz
		}
		return tarIterate(ctx, r, fn)
	}
	return fmt.Errorf("unsupported archive format %q", format)
}

func iterateZip(ctx context.Context, archive string, fn memberFunc) error {
	zr, err := zip.OpenReader(archive)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return err
	}
	defer zr.Close()

	for _, fh := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		mode := fh.Mode()
		m := member{name: fh.Name, mode: mode, size: int64(fh.UncompressedSize64)}
		switch {
		case mode.IsDir():
			m.kind, m.size = memberDir, 0
			if err := fn(m, nil); err != nil {
				return err
			}
			continue
		case mode&fs.ModeSymlink != 0:
			m.kind = memberLink
		case mode.IsRegular():
			m.kind = memberFile
		default:
			m.kind = memberOther
		}
		if m.kind != memberFile {
			if err := fn(m, nil); err != nil {
				return err
			}
			continue
		}
		body, err := fh.Open()
		if err != nil {
			return err
		}
		err = fn(m, body)
		_ = body.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func tarIterate(ctx context.Context, r io.Reader, fn memberFunc) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		m := member{name: hdr.Name, mode: hdr.FileInfo().Mode(), size: hdr.Size}
		switch hdr.Typeflag {
		case tar.TypeDir:
			m.kind, m.size = memberDir, 0
		case tar.TypeReg:
			m.kind = memberFile
		case tar.TypeSymlink, tar.TypeLink:
			m.kind = memberLink
		case tar.TypeXGlobalHeader:
			continue
		default:
			m.kind = memberOther
		}
		if err := fn(m, tr); err != nil {
			return err
		}
	}
}
