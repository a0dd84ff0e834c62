// Package webapp prepares a web application bundle for the engine: it
// extracts .war archives, ensures the WEB-INF layout and discovers the
// components the application provides.
package webapp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrNotFound is returned when the bundle path does not exist.
var ErrNotFound = errors.New("web application not found")

// App is an opened web application rooted at a directory on disk.
type App struct {
	// Root is the directory the context serves files from.
	Root string

	log       *slog.Logger
	extracted bool
}

// Open prepares the bundle at path. A directory is used in place; a file is
// treated as a zip archive and extracted into a new temporary directory that
// Close removes.
func Open(path string, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	app := &App{log: log}
	if fi.IsDir() {
		app.Root, err = filepath.Abs(path)
		if err != nil {
			return nil, err
		}
	} else {
		dir, err := os.MkdirTemp("", "jerrymouse-war-")
		if err != nil {
			return nil, fmt.Errorf("create extraction dir: %w", err)
		}
		app.Root = dir
		app.extracted = true
		if err := extract(path, dir); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("extract %s: %w", path, err)
		}
		log.Info("webapp.extracted", slog.String("war", path), slog.String("dir", dir))
	}

	for _, sub := range []string{ClassesDir, LibDir} {
		if err := os.MkdirAll(filepath.Join(app.Root, sub), 0o755); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return app, nil
}

const (
	ClassesDir = "WEB-INF/classes"
	LibDir     = "WEB-INF/lib"
)

// Close removes the extraction directory of an archive. It does nothing for
// exploded directories.
func (a *App) Close() error {
	if !a.extracted || a.Root == "" {
		return nil
	}
	root := a.Root
	a.Root = ""
	a.log.Debug("webapp.cleanup", slog.String("dir", root))
	return os.RemoveAll(root)
}

func extract(archive, dst string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	files := make([]*zip.File, len(zr.File))
	copy(files, zr.File)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	root := filepath.Clean(dst)
	for _, f := range files {
		target, err := entryPath(root, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

// entryPath resolves name under root and rejects entries escaping it.
func entryPath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("illegal archive entry %q", name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
