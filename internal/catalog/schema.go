package catalog

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"pmsim/internal/condition"
	"pmsim/internal/domain"
	"pmsim/internal/sim"
)

//go:embed schema/*.json
var schemaFS embed.FS

const schemaBase = "https://pmsim.local/schema/"

var (
	schemaOnce sync.Once
	schemaSet  map[string]*jsonschema.Schema
	schemaErr  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		for _, name := range docNames {
			data, err := schemaFS.ReadFile("schema/" + name + ".schema.json")
			if err != nil {
				schemaErr = err
				return
			}
			if err := c.AddResource(schemaBase+name+".schema.json", bytes.NewReader(data)); err != nil {
				schemaErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
		}
		out := map[string]*jsonschema.Schema{}
		for _, name := range docNames {
			s, err := c.Compile(schemaBase + name + ".schema.json")
			if err != nil {
				schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			out[name] = s
		}
		schemaSet = out
	})
	return schemaSet, schemaErr
}

// Problem is one validation finding.
type Problem struct {
	Doc     string `json:"doc"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Doc + ": " + p.Message
	}
	return p.Doc + " " + p.Path + ": " + p.Message
}

// ValidationError lists everything wrong with a catalog.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("invalid catalog (%d problems): %s", len(e.Problems), strings.Join(parts, "; "))
}

// Validate checks the documents against their JSON schemas and then checks
// what a schema cannot express: unique ids, parseable conditions, ordered
// impact ranges and known effect keys.
func Validate(docs Documents) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	var problems []Problem
	for _, name := range docNames {
		data := docs[name]
		if len(data) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			problems = append(problems, Problem{Doc: name, Message: "not valid JSON: " + err.Error()})
			continue
		}
		if err := schemas[name].Validate(v); err != nil {
			problems = append(problems, schemaProblems(name, err)...)
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	cat, err := Parse(docs)
	if err != nil {
		return err
	}
	problems = append(problems, Check(cat)...)
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func schemaProblems(doc string, err error) []Problem {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Problem{{Doc: doc, Message: err.Error()}}
	}
	var out []Problem
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, Problem{Doc: doc, Path: e.InstanceLocation, Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return out
}

// Check reports semantic problems in a parsed catalog.
func Check(cat sim.Catalog) []Problem {
	var out []Problem
	add := func(doc, path, format string, args ...any) {
		out = append(out, Problem{Doc: doc, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	seen := map[string]bool{}
	for i, t := range cat.Tickets {
		path := fmt.Sprintf("/%d", i)
		if seen[t.ID] {
			add(TicketsDoc, path, "duplicate id %q", t.ID)
		}
		seen[t.ID] = true
		if !t.Category.Valid() {
			add(TicketsDoc, path, "unknown category %q", t.Category)
		}
		for _, imp := range []struct {
			name string
			r    *domain.ImpactRange
		}{{"primary_impact", t.PrimaryImpact}, {"secondary_impact", t.SecondaryImpact}, {"tradeoff_impact", t.TradeoffImpact}} {
			if imp.r == nil {
				continue
			}
			for _, rg := range []*domain.Range{imp.r.Success, imp.r.Partial} {
				if rg != nil && rg[0] > rg[1] {
					add(TicketsDoc, path+"/"+imp.name, "range [%d,%d] is reversed", rg[0], rg[1])
				}
			}
		}
	}

	seen = map[string]bool{}
	for _, e := range cat.Events {
		path := "/" + e.Group + "/" + e.ID
		if seen[e.ID] {
			add(EventsDoc, path, "duplicate id %q", e.ID)
		}
		seen[e.ID] = true
		if e.Condition != "" && !condition.Parse(e.Condition).Valid() {
			add(EventsDoc, path, "condition %q does not parse", e.Condition)
		}
		for k := range e.EffectMap {
			if k != domain.CapacityKey && !domain.MetricKey(k).Valid() {
				add(EventsDoc, path, "unknown effect key %q", k)
			}
		}
		if e.ForcedTicketCategory != "" && !e.ForcedTicketCategory.Valid() {
			add(EventsDoc, path, "unknown forced ticket category %q", e.ForcedTicketCategory)
		}
		if e.Group == domain.GroupThreshold && e.Condition == "" {
			add(EventsDoc, path, "threshold event needs a condition")
		}
		if e.Group == domain.GroupRandom && e.Probability <= 0 {
			add(EventsDoc, path, "random event needs a probability")
		}
	}

	seen = map[string]bool{}
	for _, n := range cat.Narratives {
		if seen[n.ID] {
			add(NarrativesDoc, "/"+n.Group+"/"+n.ID, "duplicate id %q", n.ID)
		}
		seen[n.ID] = true
	}
	return out
}
