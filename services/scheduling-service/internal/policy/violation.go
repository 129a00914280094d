package policy

import (
	"errors"
	"fmt"
	"time"
)

type Rule string

const (
	RuleLeadTime      Rule = "lead_time"
	RuleBusinessHours Rule = "business_hours"
	RuleBlockedTime   Rule = "blocked_time"
	RuleConflict      Rule = "appointment_conflict"
	RuleCancelWindow  Rule = "cancel_window"
	RuleQuietHours    Rule = "quiet_hours"
)

// Violation reports which rule failed and the offending values. Callers turn
// this into user-facing text; the engine never does.
type Violation struct {
	Rule   Rule
	Detail string
	// At is the candidate instant that was rejected, when applicable.
	At time.Time
}

func (v *Violation) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", v.Rule, v.Detail)
}

// AsViolation unwraps a Violation from err, if there is one.
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

func violate(rule Rule, at time.Time, format string, args ...any) error {
	return &Violation{Rule: rule, At: at, Detail: fmt.Sprintf(format, args...)}
}
