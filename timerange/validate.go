package timerange

import (
	"fmt"
	"time"

	"github.com/icodeforyou/netztransparenz-go/types/maybe"
)

type Rule string

const (
	RuleFromMissing  Rule = "from must be set"
	RuleToMissing    Rule = "to must be set"
	RuleFromAfterTo  Rule = "from must not be after to"
	RuleToAfterNow   Rule = "to must not be after now"
	RuleFromAfterNow Rule = "from must not be after now"
)

type InvalidRangeError struct {
	Rule Rule
	From maybe.Maybe[time.Time]
	To   maybe.Maybe[time.Time]
	Now  maybe.Maybe[time.Time]
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid time range (from=%s, to=%s, now=%s): %s",
		formatMaybe(e.From), formatMaybe(e.To), formatMaybe(e.Now), e.Rule)
}

func formatMaybe(m maybe.Maybe[time.Time]) string {
	if !m.IsValid() {
		return "<none>"
	}
	return m.Value().Format(time.RFC3339)
}

// Validate checks a requested range. In strict mode a violated rule is returned as
// *InvalidRangeError, otherwise Validate just reports false.
func Validate(from, to, now maybe.Maybe[time.Time], strict bool) (bool, error) {
	rule, ok := check(from, to, now)
	if ok {
		return true, nil
	}
	if strict {
		return false, &InvalidRangeError{Rule: rule, From: from, To: to, Now: now}
	}
	return false, nil
}

func check(from, to, now maybe.Maybe[time.Time]) (Rule, bool) {
	if !from.IsValid() {
		return RuleFromMissing, false
	}
	if !to.IsValid() {
		return RuleToMissing, false
	}
	if from.Value().After(to.Value()) {
		return RuleFromAfterTo, false
	}
	if now.IsValid() {
		if to.Value().After(now.Value()) {
			return RuleToAfterNow, false
		}
		if from.Value().After(now.Value()) {
			return RuleFromAfterNow, false
		}
	}
	return "", true
}
