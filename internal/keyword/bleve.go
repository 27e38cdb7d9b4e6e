package keyword

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/ruiji/internal/models"
)

// DirName is the keyword index directory inside an artifact directory.
const DirName = "keyword.bleve"

const defaultNameBoost = 3.0

var textFields = []string{"name", "details", "category", "gender"}

// catalogDoc is what gets indexed per metadata row. Bleve maps fields by their json names.
type catalogDoc struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Details  string `json:"details"`
	Category string `json:"category"`
	Gender   string `json:"gender"`
}

// CatalogIndex is a Bleve index over metadata rows. Document ids are row numbers.
type CatalogIndex struct {
	index bleve.Index
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// standard analyzer: lowercase + tokenize, no stemming, so "shirts" does not match "shirt"
	// unless fuzzy is on
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = false
	for _, f := range textFields {
		docMapping.AddFieldMappingsAt(f, textFieldMapping)
	}
	docMapping.AddFieldMappingsAt("item_id", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("item", docMapping)
	im.DefaultType = "item"
	im.DefaultMapping = docMapping
	return im
}

// Build creates a new index at path holding one document per item row.
func Build(path string, items []models.Item) (*CatalogIndex, error) {
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	batch := index.NewBatch()
	for row := range items {
		it := &items[row]
		doc := catalogDoc{
			ItemID:   it.ID,
			Name:     it.Name,
			Details:  it.Details,
			Category: it.Category,
			Gender:   it.Gender,
		}
		if err := batch.Index(strconv.Itoa(row), doc); err != nil {
			index.Close()
			return nil, fmt.Errorf("failed to index row %d: %w", row, err)
		}
		if batch.Size() >= 1000 {
			if err := index.Batch(batch); err != nil {
				index.Close()
				return nil, fmt.Errorf("failed to write batch: %w", err)
			}
			batch.Reset()
		}
	}
	if err := index.Batch(batch); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to write batch: %w", err)
	}
	return &CatalogIndex{index: index}, nil
}

// Open opens an existing index at path read-only.
func Open(path string) (*CatalogIndex, error) {
	index, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("failed to open Bleve index: %w", err)
	}
	return &CatalogIndex{index: index}, nil
}

// Search matches text against name, details, category and gender, boosting name matches,
// and returns up to limit hits ordered by score (ties by row).
func (c *CatalogIndex) Search(ctx context.Context, text string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		limit = 10
	}
	nameBoost := defaultNameBoost
	fuzzy := false
	fuzziness := 2
	if opts != nil {
		if opts.NameBoost > 0 {
			nameBoost = opts.NameBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	fieldQueries := make([]blevequery.Query, 0, len(textFields))
	for _, field := range textFields {
		boost := 1.0
		if field == "name" && nameBoost > 1 {
			boost = nameBoost
		}
		fieldQueries = append(fieldQueries, buildFieldQuery(text, field, fuzzy, fuzziness, boost))
	}
	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(fieldQueries...))
	req.Size = limit
	req.Fields = []string{"item_id"}
	results, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		row, err := strconv.Atoi(hit.ID)
		if err != nil {
			continue
		}
		id, _ := hit.Fields["item_id"].(string)
		out = append(out, &KeywordResult{Row: row, ID: id, Score: hit.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Row < out[j].Row
	})
	return out, nil
}

// buildFieldQuery returns a match query on field, or a disjunction of fuzzy term queries.
func buildFieldQuery(text, field string, fuzzy bool, fuzziness int, boost float64) blevequery.Query {
	terms := tokenizeQuery(text)
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// DocCount returns the number of indexed rows.
func (c *CatalogIndex) DocCount() (uint64, error) {
	return c.index.DocCount()
}

// Close closes the Bleve index.
func (c *CatalogIndex) Close() error {
	return c.index.Close()
}
