// Package paywall serves localized paywall documents.
package paywall

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// StringTable maps string keys to localized copy for one locale.
type StringTable map[string]string

// Component is one renderable element of a paywall layout. Text fields hold
// string-table keys, not literal copy.
type Component struct {
	Kind      string `json:"kind"`
	TitleKey  string `json:"title_key,omitempty"`
	BodyKey   string `json:"body_key,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	ActionKey string `json:"action_key,omitempty"`
}

// Document is a paywall definition with copy for one or more locales.
type Document struct {
	ID            string                 `json:"id"`
	DefaultLocale string                 `json:"default_locale"`
	Locales       map[string]StringTable `json:"locales"`
	Components    []Component            `json:"components"`
}

// MissingKeyError reports a string-table key absent from every candidate locale.
type MissingKeyError struct {
	DocumentID string
	Locale     string
	Key        string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("paywall %s: locale %s has no string for key %q", e.DocumentID, e.Locale, e.Key)
}

// ParseDocument decodes and validates a paywall document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode paywall: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	if d.ID == "" {
		return fmt.Errorf("paywall document missing id")
	}
	if d.DefaultLocale == "" {
		return fmt.Errorf("paywall %s: missing default_locale", d.ID)
	}
	if _, ok := d.Locales[d.DefaultLocale]; !ok {
		return fmt.Errorf("paywall %s: no string table for default locale %s", d.ID, d.DefaultLocale)
	}
	return nil
}

// Catalog holds paywall documents by ID.
type Catalog struct {
	docs map[string]*Document
}

// NewCatalog builds a catalog from parsed documents.
func NewCatalog(docs ...*Document) *Catalog {
	c := &Catalog{docs: make(map[string]*Document, len(docs))}
	for _, doc := range docs {
		c.docs[doc.ID] = doc
	}
	return c
}

// LoadCatalog reads every .json document under dir.
func LoadCatalog(dir string) (*Catalog, error) {
	c := &Catalog{docs: make(map[string]*Document)}
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		doc, err := ParseDocument(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		c.docs[doc.ID] = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the document with the given ID, or nil.
func (c *Catalog) Get(id string) *Document {
	return c.docs[id]
}

// Len reports the number of loaded documents.
func (c *Catalog) Len() int {
	return len(c.docs)
}
