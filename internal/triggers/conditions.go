package triggers

import (
	"strings"
	"time"
)

// EvalContext is the snapshot a trigger's conditions are evaluated against.
// Evaluation is a pure function of this struct: same trigger plus same
// context always yields the same answer.
type EvalContext struct {
	Phone           string
	MessageText     string
	SenderName      string
	IsNewContact    bool
	LastInteraction time.Time
	Now             time.Time
	Tags            []string
}

// ConditionSet is the typed shape of a trigger's conditions JSON. Every
// present condition must hold for the set to match.
type ConditionSet struct {
	Keywords          []string                `json:"keywords,omitempty"`
	KeywordMatch      string                  `json:"keywordMatch,omitempty"` // "any" (default) or "all"
	BusinessHours     *BusinessHoursCondition `json:"businessHours,omitempty"`
	InactivityMinutes int                     `json:"inactivityMinutes,omitempty"`
	NewContact        *bool                   `json:"newContact,omitempty"`
	HasTag            string                  `json:"hasTag,omitempty"`
}

// BusinessHoursCondition matches when the evaluation time falls inside (or,
// with Inside=false, outside) the configured window.
type BusinessHoursCondition struct {
	Inside   bool   `json:"inside"`
	Start    string `json:"start"` // "08:00"
	End      string `json:"end"`   // "18:00"
	Weekdays []int  `json:"weekdays,omitempty"` // time.Weekday values; empty means Mon-Fri
}

// evaluate reports whether every configured condition holds, and which ones
// were checked and met.
func (c *ConditionSet) evaluate(ec *EvalContext) (bool, []string) {
	var met []string

	if len(c.Keywords) > 0 {
		if !c.matchKeywords(ec.MessageText) {
			return false, nil
		}
		met = append(met, "keywords")
	}

	if c.BusinessHours != nil {
		if !c.BusinessHours.matches(ec.Now) {
			return false, nil
		}
		met = append(met, "business_hours")
	}

	if c.InactivityMinutes > 0 {
		if ec.LastInteraction.IsZero() {
			return false, nil
		}
		if ec.Now.Sub(ec.LastInteraction) < time.Duration(c.InactivityMinutes)*time.Minute {
			return false, nil
		}
		met = append(met, "inactivity")
	}

	if c.NewContact != nil {
		if ec.IsNewContact != *c.NewContact {
			return false, nil
		}
		met = append(met, "new_contact")
	}

	if c.HasTag != "" {
		found := false
		for _, tag := range ec.Tags {
			if tag == c.HasTag {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
		met = append(met, "has_tag")
	}

	return true, met
}

func (c *ConditionSet) matchKeywords(text string) bool {
	lower := strings.ToLower(text)
	if c.KeywordMatch == "all" {
		for _, kw := range c.Keywords {
			if !strings.Contains(lower, strings.ToLower(kw)) {
				return false
			}
		}
		return true
	}
	for _, kw := range c.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (b *BusinessHoursCondition) matches(now time.Time) bool {
	inside := b.insideWindow(now)
	return inside == b.Inside
}

func (b *BusinessHoursCondition) insideWindow(now time.Time) bool {
	weekdays := b.Weekdays
	if len(weekdays) == 0 {
		weekdays = []int{1, 2, 3, 4, 5}
	}
	dayOK := false
	for _, wd := range weekdays {
		if int(now.Weekday()) == wd {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}

	start, err1 := parseClock(b.Start)
	end, err2 := parseClock(b.End)
	if err1 != nil || err2 != nil {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	return minutes >= start && minutes < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
