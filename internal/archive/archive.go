// Package archive packs a job workspace into a single ZIP file.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"mediadump/internal/services"
)

const partSuffix = ".part"

// Summary describes a finished archive.
type Summary struct {
	Path    string
	Entries []string
	Bytes   int64
}

// Build walks root and writes every regular file into a Deflate-compressed ZIP
// at outputPath, named by its slash-separated path relative to root. Output is
// staged in outputPath+".part" and renamed on success; nothing is left behind
// on failure.
func Build(ctx context.Context, root, outputPath string) (Summary, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrArchive, "archive", "build", "workspace unreadable", err)
	}
	if !info.IsDir() {
		return Summary{}, services.Wrap(services.ErrArchive, "archive", "build", root+" is not a directory", nil)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return Summary{}, services.Wrap(services.ErrArchive, "archive", "build", "create archive directory", err)
	}

	partPath := outputPath + partSuffix
	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrArchive, "archive", "build", "create archive", err)
	}

	summary := Summary{Path: outputPath}
	zw := zip.NewWriter(file)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		written, err := addFile(zw, path, name)
		if err != nil {
			return err
		}
		summary.Entries = append(summary.Entries, name)
		summary.Bytes += written
		return nil
	})

	closeZipErr := zw.Close()
	closeFileErr := file.Close()
	var failure error
	switch {
	case walkErr != nil:
		failure = services.Wrap(services.ErrArchive, "archive", "build", "add workspace files", walkErr)
	case closeZipErr != nil:
		failure = services.Wrap(services.ErrArchive, "archive", "build", "finalize archive", closeZipErr)
	case closeFileErr != nil:
		failure = services.Wrap(services.ErrArchive, "archive", "build", "close archive", closeFileErr)
	}
	if failure != nil {
		_ = os.Remove(partPath)
		return Summary{}, failure
	}

	if err := os.Rename(partPath, outputPath); err != nil {
		_ = os.Remove(partPath)
		return Summary{}, services.Wrap(services.ErrArchive, "archive", "build", "finalize archive", err)
	}
	return summary, nil
}

func addFile(zw *zip.Writer, path, name string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, err
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(dst, src)
	if err != nil {
		return written, fmt.Errorf("copy %s: %w", name, err)
	}
	return written, nil
}
