package asset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Unzip expands the zip archive at archivePath into dir.
// Relative entry paths are preserved and intermediate directories are created as needed.
// Entries that would land outside of dir are rejected.
func Unzip(archivePath, dir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return &IOError{Op: "open archive", Path: archivePath, Err: err}
	}
	defer r.Close()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return &IOError{Op: "resolve", Path: dir, Err: err}
	}
	err = os.MkdirAll(absDir, 0o755)
	if err != nil {
		return &IOError{Op: "mkdir", Path: absDir, Err: err}
	}

	for _, f := range r.File {
		target := filepath.Join(absDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, absDir+string(filepath.Separator)) && target != absDir {
			return &IOError{Op: "unzip", Path: f.Name, Err: fmt.Errorf("entry escapes %q", dir)}
		}
		if f.FileInfo().IsDir() {
			err := os.MkdirAll(target, 0o755)
			if err != nil {
				return &IOError{Op: "mkdir", Path: target, Err: err}
			}
			continue
		}
		err := extractFile(f, target)
		if err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return &IOError{Op: "open entry", Path: f.Name, Err: err}
	}
	defer rc.Close()

	out, err := createFile(target)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	if err != nil {
		return &IOError{Op: "write", Path: target, Err: err}
	}
	err = out.Close()
	if err != nil {
		return &IOError{Op: "close", Path: target, Err: err}
	}
	return nil
}

// createFile creates or truncates path, making any missing parent directories.
func createFile(path string) (*os.File, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, &IOError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, &IOError{Op: "create", Path: path, Err: err}
	}
	return f, nil
}
