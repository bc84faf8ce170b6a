package paywall

import (
	"fmt"

	"golang.org/x/text/language"
)

// Resolved is a paywall flattened to a single locale, ready to serialize.
type Resolved struct {
	ID         string              `json:"id"`
	Locale     string              `json:"locale"`
	Components []ResolvedComponent `json:"components"`
}

// ResolvedComponent carries localized copy in place of string-table keys.
type ResolvedComponent struct {
	Kind      string `json:"kind"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Action    string `json:"action,omitempty"`
}

// Resolve picks the best string table for the requested locale and flattens
// the document. Strings missing from the chosen locale fall back to the
// default locale; a key absent from both is a MissingKeyError.
func (d *Document) Resolve(requested string) (*Resolved, error) {
	locale := d.matchLocale(requested)
	table := d.Locales[locale]
	fallback := d.Locales[d.DefaultLocale]

	lookup := func(key string) (string, error) {
		if key == "" {
			return "", nil
		}
		if s, ok := table[key]; ok {
			return s, nil
		}
		if s, ok := fallback[key]; ok {
			return s, nil
		}
		return "", &MissingKeyError{DocumentID: d.ID, Locale: locale, Key: key}
	}

	resolved := &Resolved{ID: d.ID, Locale: locale}
	for _, comp := range d.Components {
		title, err := lookup(comp.TitleKey)
		if err != nil {
			return nil, err
		}
		body, err := lookup(comp.BodyKey)
		if err != nil {
			return nil, err
		}
		action, err := lookup(comp.ActionKey)
		if err != nil {
			return nil, err
		}
		resolved.Components = append(resolved.Components, ResolvedComponent{
			Kind:      comp.Kind,
			Title:     title,
			Body:      body,
			ProductID: comp.ProductID,
			Action:    action,
		})
	}
	return resolved, nil
}

// matchLocale finds the closest available locale for the request, preferring
// the default locale on a tie or an unparseable request.
func (d *Document) matchLocale(requested string) string {
	if requested == "" {
		return d.DefaultLocale
	}
	if _, ok := d.Locales[requested]; ok {
		return requested
	}

	tags := make([]language.Tag, 0, len(d.Locales))
	names := make([]string, 0, len(d.Locales))
	appendLocale := func(name string) {
		tag, err := language.Parse(name)
		if err != nil {
			return
		}
		tags = append(tags, tag)
		names = append(names, name)
	}
	// The matcher prefers earlier tags, so the default goes first.
	appendLocale(d.DefaultLocale)
	for name := range d.Locales {
		if name != d.DefaultLocale {
			appendLocale(name)
		}
	}
	if len(tags) == 0 {
		return d.DefaultLocale
	}

	wanted, _, err := language.ParseAcceptLanguage(requested)
	if err != nil || len(wanted) == 0 {
		return d.DefaultLocale
	}
	_, index, conf := language.NewMatcher(tags).Match(wanted...)
	if conf == language.No {
		return d.DefaultLocale
	}
	return names[index]
}

// ResolveDocument looks up the document in the catalog and resolves it.
func (c *Catalog) ResolveDocument(id, requested string) (*Resolved, error) {
	doc := c.Get(id)
	if doc == nil {
		return nil, fmt.Errorf("paywall %s not found", id)
	}
	return doc.Resolve(requested)
}
