package entities

// Category is one of the ordinary-entity labels tracked for redaction.
type Category string

const (
	CategoryPerson   Category = "PERSON"
	CategoryNORP     Category = "NORP"
	CategoryGPE      Category = "GPE"
	CategoryCardinal Category = "CARDINAL"
)

// Categories lists the tracked categories in redaction order.
var Categories = []Category{
	CategoryPerson,
	CategoryNORP,
	CategoryGPE,
	CategoryCardinal,
}

// IsTracked reports whether label names a tracked category.
func IsTracked(label string) bool {
	for _, c := range Categories {
		if string(c) == label {
			return true
		}
	}
	return false
}

// Map is an insertion-ordered surface -> label mapping.
// Setting an existing surface replaces its label and keeps its position.
type Map struct {
	keys   []string
	labels map[string]string
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{labels: map[string]string{}}
}

// Set records label for surface.
func (m *Map) Set(surface, label string) {
	if m.labels == nil {
		m.labels = map[string]string{}
	}
	if _, ok := m.labels[surface]; !ok {
		m.keys = append(m.keys, surface)
	}
	m.labels[surface] = label
}

// Get returns the label recorded for surface.
func (m *Map) Get(surface string) (string, bool) {
	if m == nil {
		return "", false
	}
	lbl, ok := m.labels[surface]
	return lbl, ok
}

// Len returns the number of distinct surfaces.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Each calls fn for every entry in insertion order.
func (m *Map) Each(fn func(surface, label string)) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		fn(k, m.labels[k])
	}
}

// Buckets groups surface strings by tracked category.
type Buckets map[Category][]string

// Total returns the number of surfaces across all buckets.
func (b Buckets) Total() int {
	n := 0
	for _, v := range b {
		n += len(v)
	}
	return n
}

// Filter buckets surfaces by tracked category and drops everything else.
// All tracked categories are present in the result, empty or not.
func Filter(m *Map) Buckets {
	out := make(Buckets, len(Categories))
	for _, c := range Categories {
		out[c] = []string{}
	}
	m.Each(func(surface, label string) {
		c := Category(label)
		if _, ok := out[c]; ok {
			out[c] = append(out[c], surface)
		}
	})
	return out
}

// Record is one clinical entity found by an extractor.
type Record struct {
	Entity  string `json:"entity"`
	Label   string `json:"label"`
	Context string `json:"context"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}
