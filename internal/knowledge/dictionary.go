package knowledge

import (
	"sort"
	"strings"
)

// Dictionary is an immutable snapshot of the classification keyword table.
// Categories map to the keyword lists that bias the classifier toward them.
type Dictionary struct {
	entries map[string][]string
}

// NewDictionary builds a snapshot from category -> keywords. The input is
// copied; later mutation of the argument does not affect the snapshot.
func NewDictionary(entries map[string][]string) *Dictionary {
	copied := make(map[string][]string, len(entries))
	for cat, words := range entries {
		cat = strings.TrimSpace(cat)
		if cat == "" {
			continue
		}
		list := make([]string, 0, len(words))
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w != "" {
				list = append(list, w)
			}
		}
		copied[cat] = list
	}
	return &Dictionary{entries: copied}
}

// Categories returns the known category names in sorted order.
func (d *Dictionary) Categories() []string {
	cats := make([]string, 0, len(d.entries))
	for cat := range d.entries {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}

// KeywordsFor returns the keywords registered under the category.
func (d *Dictionary) KeywordsFor(category string) []string {
	words := d.entries[category]
	out := make([]string, len(words))
	copy(out, words)
	return out
}

// Has reports whether the category exists in the snapshot.
func (d *Dictionary) Has(category string) bool {
	_, ok := d.entries[category]
	return ok
}

// Len returns the number of categories.
func (d *Dictionary) Len() int {
	return len(d.entries)
}

// PromptLines renders the dictionary as "category: kw1, kw2, ..." lines for
// inclusion in a classification prompt, one category per line, sorted.
func (d *Dictionary) PromptLines() string {
	var b strings.Builder
	for i, cat := range d.Categories() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(cat)
		b.WriteString(": ")
		b.WriteString(strings.Join(d.entries[cat], ", "))
	}
	return b.String()
}

// MatchCategories returns every category whose keywords appear in text,
// sorted. Matching is case-insensitive substring containment.
func (d *Dictionary) MatchCategories(text string) []string {
	lowered := strings.ToLower(text)
	var matched []string
	for cat, words := range d.entries {
		for _, w := range words {
			if strings.Contains(lowered, strings.ToLower(w)) {
				matched = append(matched, cat)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched
}
