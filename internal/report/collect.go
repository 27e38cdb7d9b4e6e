package report

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// IsImagePath reports whether path has a supported image extension.
func IsImagePath(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// Collection is the set of query images gathered for a report.
type Collection struct {
	Images   []string
	tempDirs []string
}

// Cleanup removes directories created while extracting archives.
func (c *Collection) Cleanup() {
	for _, d := range c.tempDirs {
		_ = os.RemoveAll(d)
	}
	c.tempDirs = nil
}

// CollectImages expands paths into image files. Each path may be an image, a directory
// (walked recursively) or a .zip archive (extracted to a temp dir). Other files are ignored.
func CollectImages(paths []string) (*Collection, error) {
	c := &Collection{}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			c.Cleanup()
			return nil, err
		}
		switch {
		case info.IsDir():
			if err := c.walk(p); err != nil {
				c.Cleanup()
				return nil, err
			}
		case strings.EqualFold(filepath.Ext(p), ".zip"):
			dir, err := os.MkdirTemp("", "ruiji-report-")
			if err != nil {
				c.Cleanup()
				return nil, err
			}
			c.tempDirs = append(c.tempDirs, dir)
			if err := extractZip(p, dir); err != nil {
				c.Cleanup()
				return nil, fmt.Errorf("cannot extract %s: %w", p, err)
			}
			if err := c.walk(dir); err != nil {
				c.Cleanup()
				return nil, err
			}
		case IsImagePath(p):
			c.Images = append(c.Images, p)
		}
	}
	return c, nil
}

func (c *Collection) walk(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), "__MACOSX") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsImagePath(path) && !strings.HasPrefix(d.Name(), "._") {
			c.Images = append(c.Images, path)
		}
		return nil
	})
}

// extractZip writes the image entries of archive under dest.
func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		name := sanitizeArchivePath(f.Name)
		if name == "" || f.FileInfo().IsDir() || !IsImagePath(name) {
			continue
		}
		target := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// sanitizeArchivePath rejects absolute paths and traversal sequences in archive entries.
func sanitizeArchivePath(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	if name == "" || strings.HasPrefix(name, "/") {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return ""
		}
	}
	clean := filepath.Clean(name)
	if clean == "." {
		return ""
	}
	return clean
}
