package domain

// MetricKey names one gauge of the metrics vector.
type MetricKey string

const (
	TeamSentiment    MetricKey = "team_sentiment"
	CEOSentiment     MetricKey = "ceo_sentiment"
	SalesSentiment   MetricKey = "sales_sentiment"
	CTOSentiment     MetricKey = "cto_sentiment"
	SelfServeGrowth  MetricKey = "self_serve_growth"
	EnterpriseGrowth MetricKey = "enterprise_growth"
	TechDebt         MetricKey = "tech_debt"
	NPS              MetricKey = "nps"
	Velocity         MetricKey = "velocity"
)

// BoundedKeys lists the gauges clamped to [0,100], in canonical order.
var BoundedKeys = []MetricKey{
	TeamSentiment,
	CEOSentiment,
	SalesSentiment,
	CTOSentiment,
	SelfServeGrowth,
	EnterpriseGrowth,
	TechDebt,
	NPS,
}

// Valid reports whether k is a known metric.
func (k MetricKey) Valid() bool {
	if k == Velocity {
		return true
	}
	for _, b := range BoundedKeys {
		if b == k {
			return true
		}
	}
	return false
}

// Metrics is the persistent health vector. Every bounded gauge stays within
// [0,100]; velocity is a non-negative counter.
type Metrics struct {
	TeamSentiment    int `json:"team_sentiment"`
	CEOSentiment     int `json:"ceo_sentiment"`
	SalesSentiment   int `json:"sales_sentiment"`
	CTOSentiment     int `json:"cto_sentiment"`
	SelfServeGrowth  int `json:"self_serve_growth"`
	EnterpriseGrowth int `json:"enterprise_growth"`
	TechDebt         int `json:"tech_debt"`
	NPS              int `json:"nps"`
	Velocity         int `json:"velocity"`
}

func (m *Metrics) field(k MetricKey) *int {
	switch k {
	case TeamSentiment:
		return &m.TeamSentiment
	case CEOSentiment:
		return &m.CEOSentiment
	case SalesSentiment:
		return &m.SalesSentiment
	case CTOSentiment:
		return &m.CTOSentiment
	case SelfServeGrowth:
		return &m.SelfServeGrowth
	case EnterpriseGrowth:
		return &m.EnterpriseGrowth
	case TechDebt:
		return &m.TechDebt
	case NPS:
		return &m.NPS
	case Velocity:
		return &m.Velocity
	}
	return nil
}

// Get returns the value of k and whether k exists.
func (m Metrics) Get(k MetricKey) (int, bool) {
	p := m.field(k)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Add applies delta to k and clamps the result. Unknown keys are ignored.
func (m *Metrics) Add(k MetricKey, delta int) {
	p := m.field(k)
	if p == nil {
		return
	}
	v := *p + delta
	if v < 0 {
		v = 0
	}
	if k != Velocity && v > 100 {
		v = 100
	}
	*p = v
}

// Clamped returns a copy with every gauge pulled back into range.
func (m Metrics) Clamped() Metrics {
	out := m
	for _, k := range BoundedKeys {
		out.Add(k, 0)
	}
	out.Add(Velocity, 0)
	return out
}

// Lookup resolves metric names for the condition evaluator.
func (m Metrics) Lookup(name string) (float64, bool) {
	v, ok := m.Get(MetricKey(name))
	return float64(v), ok
}

// MetricTargets are informational goals shown to the player.
type MetricTargets struct {
	TeamSentiment    int `json:"team_sentiment"`
	CEOSentiment     int `json:"ceo_sentiment"`
	SalesSentiment   int `json:"sales_sentiment"`
	CTOSentiment     int `json:"cto_sentiment"`
	SelfServeGrowth  int `json:"self_serve_growth"`
	EnterpriseGrowth int `json:"enterprise_growth"`
	TechDebt         int `json:"tech_debt"`
	NPS              int `json:"nps"`
}
