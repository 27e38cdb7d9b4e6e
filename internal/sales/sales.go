// Package sales synthesizes reproducible amount-sold figures for catalogs without sales data.
package sales

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/hyperjump/ruiji/internal/catalog"
	"github.com/hyperjump/ruiji/internal/models"
)

// MaxAmount is the largest synthesized amount.
const MaxAmount = 2000

// Synthesize maps id to an integer in [0, MaxAmount]: the first 8 hex digits of
// sha256(id) read as an unsigned integer, modulo MaxAmount+1.
func Synthesize(id string) int {
	sum := sha256.Sum256([]byte(id))
	// the first 4 digest bytes are the first 8 hex digits
	n := binary.BigEndian.Uint32(sum[:4])
	return int(n % (MaxAmount + 1))
}

// Backfill sets AmountSold on items that have none and returns how many it changed.
func Backfill(items []models.Item) int {
	changed := 0
	for i := range items {
		if items[i].AmountSold == nil {
			items[i].AmountSold = Synthesize(items[i].ID)
			changed++
		}
	}
	return changed
}

// BackfillProducts is Backfill for products-source records.
func BackfillProducts(products []models.Product) int {
	changed := 0
	for i := range products {
		if products[i].AmountSold == nil {
			products[i].AmountSold = Synthesize(products[i].ID)
			changed++
		}
	}
	return changed
}

// BackfillFile backfills a metadata table on disk. The file is rewritten only when at least
// one record changed, so a second run leaves it byte-identical.
func BackfillFile(path string) (int, error) {
	items, err := catalog.ReadMetadata(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("metadata %s: %w", path, err)
		}
		return 0, err
	}
	n := Backfill(items)
	if n == 0 {
		return 0, nil
	}
	if err := catalog.WriteMetadata(path, items); err != nil {
		return 0, err
	}
	return n, nil
}

// BackfillProductsFile backfills a products JSONL file, rewriting it only when something changed.
func BackfillProductsFile(path string) (int, error) {
	products, err := catalog.ReadProducts(path)
	if err != nil {
		return 0, err
	}
	n := BackfillProducts(products)
	if n == 0 {
		return 0, nil
	}
	if err := catalog.WriteProducts(path, products); err != nil {
		return 0, err
	}
	return n, nil
}
