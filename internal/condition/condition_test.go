package condition_test

import (
	"testing"

	"pmsim/internal/condition"
)

func lookupFrom(values map[string]float64) condition.Lookup {
	return func(name string) (float64, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name   string
		expr   string
		values map[string]float64
		want   bool
	}{
		{"and both hold", "tech_debt > 70 AND team_sentiment < 30", map[string]float64{"tech_debt": 75, "team_sentiment": 20}, true},
		{"and one fails", "tech_debt > 70 AND team_sentiment < 30", map[string]float64{"tech_debt": 75, "team_sentiment": 40}, false},
		{"or first holds", "sales_sentiment < 20 OR ceo_sentiment < 20", map[string]float64{"sales_sentiment": 10, "ceo_sentiment": 50}, true},
		{"or second holds", "sales_sentiment < 20 OR ceo_sentiment < 20", map[string]float64{"sales_sentiment": 50, "ceo_sentiment": 5}, true},
		{"or neither", "sales_sentiment < 20 OR ceo_sentiment < 20", map[string]float64{"sales_sentiment": 50, "ceo_sentiment": 50}, false},
		{"case and spacing", "  Tech_Debt>=70   and nps<=40 ", map[string]float64{"tech_debt": 70, "nps": 40}, true},
		{"single equals", "nps = 50", map[string]float64{"nps": 50}, true},
		{"double equals", "nps == 50", map[string]float64{"nps": 51}, false},
		{"unknown metric kills clause", "morale < 10 OR nps > 10", map[string]float64{"nps": 20}, true},
		{"unknown metric alone", "morale < 10", map[string]float64{"nps": 20}, false},
		{"malformed atom kills clause", "nps >> 10 AND tech_debt > 1", map[string]float64{"nps": 20, "tech_debt": 50}, false},
		{"malformed clause other holds", "nps ?? 10 OR tech_debt > 1", map[string]float64{"nps": 20, "tech_debt": 50}, true},
		{"empty", "", map[string]float64{}, false},
		{"dangling or", "nps > 10 OR", map[string]float64{"nps": 20}, true},
		{"decimal", "nps > 10.5", map[string]float64{"nps": 11}, true},
		{"negative", "nps > -1", map[string]float64{"nps": 0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := condition.Evaluate(tc.expr, lookupFrom(tc.values)); got != tc.want {
				t.Fatalf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestParseShape(t *testing.T) {
	expr := condition.Parse("a < 1 AND b > 2 or c == 3")
	if len(expr.Clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d", len(expr.Clauses))
	}
	if len(expr.Clauses[0].Atoms) != 2 || expr.Clauses[0].Atoms[1].Op != condition.Greater {
		t.Fatalf("unexpected first clause %+v", expr.Clauses[0])
	}
	if !expr.Valid() {
		t.Fatalf("expected valid expression")
	}
	if condition.Parse("a <").Valid() {
		t.Fatalf("expected invalid expression")
	}
}
