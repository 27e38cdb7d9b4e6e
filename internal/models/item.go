// Package models defines the catalog records, query requests and search results shared across packages.
package models

// Item is one catalog entry as stored in the metadata table. Row i of the metadata
// table describes the same item as row i of the similarity index.
type Item struct {
	ID        string `json:"id"`
	ImagePath string `json:"image_path"`
	Name      string `json:"name,omitempty"`
	Link      string `json:"link,omitempty"`
	// Price is kept as decoded: catalog exports carry both "1299" and 1299.
	Price    any    `json:"price,omitempty"`
	Details  string `json:"details,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Category string `json:"category,omitempty"`
	// AmountSold is nil when the record has no sales figure, including an explicit JSON null.
	// Non-numeric values are kept verbatim and ignored by aggregation.
	AmountSold any `json:"amount_sold,omitempty"`
}

// Fields returns the item's present fields keyed by their JSON names.
func (it *Item) Fields() map[string]any {
	m := map[string]any{
		"id":         it.ID,
		"image_path": it.ImagePath,
	}
	setString := func(key, v string) {
		if v != "" {
			m[key] = v
		}
	}
	setString("name", it.Name)
	setString("link", it.Link)
	setString("details", it.Details)
	setString("gender", it.Gender)
	setString("category", it.Category)
	if it.Price != nil {
		m["price"] = it.Price
	}
	if it.AmountSold != nil {
		m["amount_sold"] = it.AmountSold
	}
	return m
}

// Field returns the value of the field with the given JSON name and whether it is present.
func (it *Item) Field(name string) (any, bool) {
	v, ok := it.Fields()[name]
	return v, ok
}

// ManifestEntry pairs an item id with a local image path. Manifests are JSONL files
// with one entry per line.
type ManifestEntry struct {
	ID        string `json:"id"`
	ImagePath string `json:"image_path"`
}

// Product is one line of the products source. ImageURLs is only read by the downloader.
type Product struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Details    string   `json:"details,omitempty"`
	Link       string   `json:"link,omitempty"`
	Price      any      `json:"price,omitempty"`
	Gender     string   `json:"gender,omitempty"`
	Category   string   `json:"category,omitempty"`
	AmountSold any      `json:"amount_sold,omitempty"`
	ImageURLs  []string `json:"image_urls,omitempty"`
}

// ToItem returns the metadata record for this product at imagePath.
func (p *Product) ToItem(imagePath string) Item {
	return Item{
		ID:         p.ID,
		ImagePath:  imagePath,
		Name:       p.Name,
		Link:       p.Link,
		Price:      p.Price,
		Details:    p.Details,
		Gender:     p.Gender,
		Category:   p.Category,
		AmountSold: p.AmountSold,
	}
}
