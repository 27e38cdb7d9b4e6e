package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/ruiji/internal/catalog"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/vector"
)

// Artifact file names inside an index directory.
const (
	ManifestFile = "index_manifest.json"
	MetadataFile = "image_meta.json"
	IndexVersion = 1
)

// Manifest describes an index directory and how to read it.
type Manifest struct {
	IndexVersion int     `json:"index_version"`
	CreatedAt    string  `json:"created_at"`
	ModelID      string  `json:"model_id"`
	Dim          int     `json:"dim"`
	Count        int     `json:"count"`
	Alpha        float32 `json:"alpha"`
	TextFused    bool    `json:"text_fused"`
	IndexType    string  `json:"index_type"`
	IndexFile    string  `json:"index_file"`
	MetadataFile string  `json:"metadata_file"`
	KeywordDir   string  `json:"keyword_dir,omitempty"`
}

// Artifacts is a loaded index directory. Items[i] describes index row i.
type Artifacts struct {
	Dir      string
	Manifest Manifest
	Index    vector.VectorIndex
	Items    []models.Item
}

// KeywordPath returns the keyword index path, or "" when the build had none.
func (a *Artifacts) KeywordPath() string {
	if a.Manifest.KeywordDir == "" {
		return ""
	}
	return filepath.Join(a.Dir, a.Manifest.KeywordDir)
}

// Close releases the similarity index.
func (a *Artifacts) Close() error {
	if a.Index == nil {
		return nil
	}
	return a.Index.Close()
}

// ReadManifest reads index_manifest.json from dir.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return nil, fmt.Errorf("cannot read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest JSON %s: %w", path, err)
	}
	if m.IndexVersion != IndexVersion {
		return nil, fmt.Errorf("unsupported index version %d in %s", m.IndexVersion, path)
	}
	if m.Dim <= 0 {
		return nil, fmt.Errorf("invalid dim in manifest: %d", m.Dim)
	}
	if m.IndexFile == "" {
		m.IndexFile = vector.FileName(m.IndexType)
	}
	if m.MetadataFile == "" {
		m.MetadataFile = MetadataFile
	}
	return &m, nil
}

func writeManifest(dir string, m *Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), append(b, '\n'), 0o644)
}

// LoadArtifacts reads the manifest, similarity index and metadata table from dir and checks
// that they describe the same rows.
func LoadArtifacts(dir string) (*Artifacts, error) {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, dir)
		}
		return nil, err
	}
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	idx, err := vector.NewVectorIndex(m.IndexType, m.Dim)
	if err != nil {
		return nil, err
	}
	indexPath := filepath.Join(dir, m.IndexFile)
	if err := idx.Load(indexPath); err != nil {
		idx.Close()
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, indexPath)
		}
		return nil, err
	}

	metaPath := filepath.Join(dir, m.MetadataFile)
	items, err := catalog.ReadMetadata(metaPath)
	if err != nil {
		idx.Close()
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, metaPath)
		}
		return nil, err
	}

	a := &Artifacts{Dir: dir, Manifest: *m, Index: idx, Items: items}
	if err := a.validate(); err != nil {
		idx.Close()
		return nil, err
	}
	return a, nil
}

func (a *Artifacts) validate() error {
	n := a.Index.Size()
	if len(a.Items) != n || a.Manifest.Count != n {
		return fmt.Errorf("%w: index has %d rows, metadata %d, manifest %d",
			ErrArtifactMismatch, n, len(a.Items), a.Manifest.Count)
	}
	for row, id := range a.Index.IDs() {
		if a.Items[row].ID != id {
			return fmt.Errorf("%w: row %d is %q in the index but %q in metadata",
				ErrArtifactMismatch, row, id, a.Items[row].ID)
		}
	}
	return nil
}
