package alerting

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/rules"
)

// SeverityRule assigns Level when any keyword occurs in the alert text.
type SeverityRule struct {
	Level    string
	Keywords []string
}

// SeverityClassifier maps alerts to routing severities with an ordered
// keyword table. The first matching rule wins.
type SeverityClassifier struct {
	rules    []SeverityRule
	fallback string
}

// DefaultSeverityRules is the built-in table: helmet problems and security
// alerts are high, other wearables and generic PPE violations medium.
func DefaultSeverityRules() []SeverityRule {
	return []SeverityRule{
		{Level: SeverityHigh, Keywords: []string{"helmet", "breach", "unauthorized"}},
		{Level: SeverityMedium, Keywords: []string{"vest", "goggles", "eyewear", "no_ppe"}},
	}
}

var severityRank = map[string]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2}

// NewSeverityClassifier builds a classifier. An empty fallback means low.
func NewSeverityClassifier(table []SeverityRule, fallback string) *SeverityClassifier {
	if fallback == "" {
		fallback = SeverityLow
	}
	fold := cases.Fold()
	folded := make([]SeverityRule, 0, len(table))
	for _, r := range table {
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				kws = append(kws, fold.String(kw))
			}
		}
		folded = append(folded, SeverityRule{Level: r.Level, Keywords: kws})
	}
	return &SeverityClassifier{rules: folded, fallback: fallback}
}

// SeverityClassifierFromConfig builds a classifier from dispatcher settings,
// falling back to the built-in table when none is configured.
func SeverityClassifierFromConfig(s *conf.DispatcherSettings) *SeverityClassifier {
	if len(s.Severity) == 0 {
		return NewSeverityClassifier(DefaultSeverityRules(), s.DefaultSeverity)
	}
	table := make([]SeverityRule, len(s.Severity))
	for i, r := range s.Severity {
		table[i] = SeverityRule{Level: r.Level, Keywords: r.Keywords}
	}
	return NewSeverityClassifier(table, s.DefaultSeverity)
}

// Classify returns the routing severity for text.
func (c *SeverityClassifier) Classify(text string) string {
	// cases.Caser carries state and is not safe for concurrent use.
	folded := cases.Fold().String(text)
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(folded, kw) {
				return r.Level
			}
		}
	}
	return c.fallback
}

// ClassifyAlert classifies the violation type together with the message.
// CRITICAL alerts never route below high, whatever the table says.
func (c *SeverityClassifier) ClassifyAlert(alert *rules.VerifiedAlert) string {
	level := c.Classify(string(alert.ViolationType) + " " + alert.Message)
	if alert.Severity == rules.SeverityCritical && severityRank[level] < severityRank[SeverityHigh] {
		return SeverityHigh
	}
	return level
}
