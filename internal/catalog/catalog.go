// Package catalog loads, validates and fingerprints the ticket, event and
// narrative content games are played against.
package catalog

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"pmsim/internal/domain"
	"pmsim/internal/sim"
)

//go:embed data/*.json
var defaults embed.FS

// Catalog document names, without extension.
const (
	TicketsDoc    = "tickets"
	EventsDoc     = "events"
	NarrativesDoc = "narratives"
)

var docNames = []string{TicketsDoc, EventsDoc, NarrativesDoc}

// groupOrder fixes evaluation order for the well-known event groups; any other
// group follows in name order.
var groupOrder = []string{domain.GroupRandom, domain.GroupThreshold, domain.GroupFocusShift}

// Documents holds the raw JSON of the three catalog documents.
type Documents map[string][]byte

// Default returns the embedded catalog.
func Default() (sim.Catalog, error) {
	docs, err := defaultDocuments()
	if err != nil {
		return sim.Catalog{}, err
	}
	return Parse(docs)
}

func defaultDocuments() (Documents, error) {
	docs := Documents{}
	for _, name := range docNames {
		data, err := defaults.ReadFile("data/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read embedded %s: %w", name, err)
		}
		docs[name] = data
	}
	return docs, nil
}

// ReadDir reads catalog documents from dir. Each document may be .json, .yml
// or .yaml; documents missing from dir fall back to the embedded defaults.
func ReadDir(dir string) (Documents, error) {
	docs, err := defaultDocuments()
	if err != nil {
		return nil, err
	}
	for _, name := range docNames {
		data, found, err := readDoc(dir, name)
		if err != nil {
			return nil, err
		}
		if found {
			docs[name] = data
		}
	}
	return docs, nil
}

func readDoc(dir, name string) ([]byte, bool, error) {
	for _, ext := range []string{".json", ".yml", ".yaml"} {
		path := filepath.Join(dir, name+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if ext == ".json" {
			return data, true, nil
		}
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", path, err)
		}
		return converted, true, nil
	}
	return nil, false, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return json.Marshal(v)
}

// LoadDir reads, validates and parses the catalog in dir. An empty dir
// returns the embedded catalog.
func LoadDir(dir string) (sim.Catalog, error) {
	if dir == "" {
		return Default()
	}
	docs, err := ReadDir(dir)
	if err != nil {
		return sim.Catalog{}, err
	}
	if err := Validate(docs); err != nil {
		return sim.Catalog{}, err
	}
	return Parse(docs)
}

// Parse decodes the three documents. Entries without an id get
// "<group>_<n>", n counting entries across all groups of the document.
func Parse(docs Documents) (sim.Catalog, error) {
	var cat sim.Catalog
	if data := docs[TicketsDoc]; len(data) > 0 {
		if err := json.Unmarshal(data, &cat.Tickets); err != nil {
			return cat, fmt.Errorf("decode tickets: %w", err)
		}
	}
	if data := docs[EventsDoc]; len(data) > 0 {
		groups := map[string][]domain.CatalogEvent{}
		if err := json.Unmarshal(data, &groups); err != nil {
			return cat, fmt.Errorf("decode events: %w", err)
		}
		for _, group := range orderedGroups(groups) {
			for _, e := range groups[group] {
				e.Group = group
				if e.ID == "" {
					e.ID = fmt.Sprintf("%s_%d", group, len(cat.Events))
				}
				cat.Events = append(cat.Events, e)
			}
		}
	}
	if data := docs[NarrativesDoc]; len(data) > 0 {
		groups := map[string][]domain.NarrativeTemplate{}
		if err := json.Unmarshal(data, &groups); err != nil {
			return cat, fmt.Errorf("decode narratives: %w", err)
		}
		for _, group := range orderedGroups(groups) {
			for _, n := range groups[group] {
				n.Group = group
				if n.ID == "" {
					n.ID = fmt.Sprintf("%s_%d", group, len(cat.Narratives))
				}
				cat.Narratives = append(cat.Narratives, n)
			}
		}
	}
	return cat, nil
}

func orderedGroups[T any](groups map[string][]T) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groupOrder {
		if _, ok := groups[g]; ok {
			out = append(out, g)
		}
	}
	var rest []string
	for g := range groups {
		known := false
		for _, k := range groupOrder {
			if g == k {
				known = true
				break
			}
		}
		if !known {
			rest = append(rest, g)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Digest fingerprints a parsed catalog, so two stores holding the same
// content report the same value.
func Digest(cat sim.Catalog) (string, error) {
	data, err := json.Marshal(struct {
		Tickets    []domain.TicketTemplate    `json:"tickets"`
		Events     []domain.CatalogEvent      `json:"events"`
		Narratives []domain.NarrativeTemplate `json:"narratives"`
	}{cat.Tickets, cat.Events, cat.Narratives})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
