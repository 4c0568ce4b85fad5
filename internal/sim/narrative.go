package sim

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pmsim/internal/domain"
	"pmsim/internal/rng"
)

var titleCaser = cases.Title(language.English)

// Label turns an enum value such as "meets_expectations_strong" into a
// display label ("Meets Expectations Strong").
func Label(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

// SuccessBucket classifies how much of a sprint landed.
func SuccessBucket(successes, total int) string {
	switch {
	case total > 0 && successes == total:
		return "all"
	case successes == 0:
		return "none"
	case successes*2 >= total:
		return "most"
	default:
		return "some"
	}
}

// RetroNarrative picks a retro template matching the sprint's shape, or falls
// back to a generated summary.
func RetroNarrative(cat Catalog, r *rng.Rand, successes, total int, catastrophe, overbooked bool) string {
	bucket := SuccessBucket(successes, total)
	var matching []domain.NarrativeTemplate
	for _, n := range cat.narrativesIn(domain.GroupSprintRetro) {
		if n.SuccessBucket != "" && n.SuccessBucket != bucket {
			continue
		}
		if n.HasCatastrophe != nil && *n.HasCatastrophe != catastrophe {
			continue
		}
		if n.Overbooked != nil && *n.Overbooked != overbooked {
			continue
		}
		matching = append(matching, n)
	}
	failures := total - successes
	tmpl, ok := rng.Pick(r, matching)
	if !ok || strings.TrimSpace(tmpl.Text) == "" {
		return fmt.Sprintf("Sprint resolved. %d of %d tickets landed with some impact. %d slipped or failed.", successes, total, failures)
	}
	return strings.NewReplacer(
		"{successes}", strconv.Itoa(successes),
		"{total}", strconv.Itoa(total),
		"{failures}", strconv.Itoa(failures),
	).Replace(tmpl.Text)
}
