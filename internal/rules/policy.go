package rules

import "time"

// timeContext is the policy context derived from the hour of day.
type timeContext int

const (
	contextStandard timeContext = iota
	contextRestricted
)

func (c timeContext) String() string {
	if c == contextRestricted {
		return "restricted"
	}
	return "standard"
}

// OperationalHours is the half-open [Start, End) interval of standard operation.
type OperationalHours struct {
	Start int
	End   int
}

// contextAt classifies t, evaluated in loc.
func (h OperationalHours) contextAt(t time.Time, loc *time.Location) timeContext {
	hour := t.In(loc).Hour()
	if hour >= h.Start && hour < h.End {
		return contextStandard
	}
	return contextRestricted
}

// verdict is the tentative violation a policy entry assigns.
type verdict struct {
	ViolationType ViolationType
	Class         AlertClass
	Severity      Severity
	Message       string
}

type policyKey struct {
	context   timeContext
	compliant bool
}

// policy maps (context, compliance) to a tentative violation. A missing key
// means the observation is not a violation.
var policy = map[policyKey]verdict{
	{contextStandard, false}: {
		ViolationType: ViolationNoPPE,
		Class:         ClassSafety,
		Severity:      SeverityWarning,
		Message:       "PPE violation detected",
	},
	{contextRestricted, true}: {
		ViolationType: ViolationUnauthorizedPresence,
		Class:         ClassSecurity,
		Severity:      SeverityCritical,
		Message:       "Unauthorized presence outside operational hours",
	},
	{contextRestricted, false}: {
		ViolationType: ViolationSecurityBreach,
		Class:         ClassSecurity,
		Severity:      SeverityCritical,
		Message:       "Security breach: potential intruder without PPE",
	},
}

// classify returns the tentative violation for a sample. Compliant entities
// inside a safe zone are never in violation.
func classify(ctx timeContext, s *DetectionSample, zones []Zone) (verdict, bool) {
	if s.HasRequiredEquipment {
		if _, ok := inSafeZone(zones, s.BoundingBox); ok {
			return verdict{}, false
		}
	}
	v, ok := policy[policyKey{ctx, s.HasRequiredEquipment}]
	return v, ok
}
