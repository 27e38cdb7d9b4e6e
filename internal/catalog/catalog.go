// Package catalog reads and writes the catalog files: image manifests and product sources
// (JSONL) and the metadata table (JSON array).
package catalog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/pkg/utils"
)

const maxLineBytes = 16 << 20

// ReadManifest reads a JSONL manifest of {"id","image_path"} lines. Blank lines are skipped.
func ReadManifest(path string) ([]models.ManifestEntry, error) {
	var entries []models.ManifestEntry
	err := readJSONL(path, func(line int, dec *json.Decoder) error {
		var e models.ManifestEntry
		if err := dec.Decode(&e); err != nil {
			return err
		}
		if e.ID == "" || e.ImagePath == "" {
			return fmt.Errorf("line %d: id and image_path are required", line)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// WriteManifest writes entries as JSONL, replacing path atomically.
func WriteManifest(path string, entries []models.ManifestEntry) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for i := range entries {
			if err := enc.Encode(&entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadProducts reads a products JSONL file. Numbers are kept as json.Number so that
// rewriting a file does not change their representation.
func ReadProducts(path string) ([]models.Product, error) {
	var products []models.Product
	err := readJSONL(path, func(line int, dec *json.Decoder) error {
		var p models.Product
		if err := dec.Decode(&p); err != nil {
			return err
		}
		if p.ID == "" {
			return fmt.Errorf("line %d: id is required", line)
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// WriteProducts writes products as JSONL, replacing path atomically.
func WriteProducts(path string, products []models.Product) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for i := range products {
			if err := enc.Encode(&products[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ProductMap indexes products by id. A later line with the same id replaces an earlier one.
func ProductMap(products []models.Product) map[string]*models.Product {
	m := make(map[string]*models.Product, len(products))
	for i := range products {
		m[products[i].ID] = &products[i]
	}
	return m
}

// ProductText returns the text embedded for a product: its name, or "name. details" when
// details carry content. A nil product yields "".
func ProductText(p *models.Product) string {
	if p == nil {
		return ""
	}
	name := strings.TrimSpace(p.Name)
	details := strings.TrimSpace(p.Details)
	if !utils.IsNullMarker(details) {
		return name + ". " + details
	}
	return name
}

// ReadMetadata reads the metadata table.
func ReadMetadata(path string) ([]models.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var items []models.Item
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return items, nil
}

// WriteMetadata writes the metadata table as a JSON array, replacing path atomically.
func WriteMetadata(path string, items []models.Item) error {
	if items == nil {
		items = []models.Item{}
	}
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(items)
	})
}

func readJSONL(path string, decode func(line int, dec *json.Decoder) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := decode(line, dec); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// writeAtomic writes to a temp file in the target directory and renames it over path.
func writeAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
