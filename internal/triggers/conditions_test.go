package triggers

import (
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func TestConditionSetKeywords(t *testing.T) {
	tests := []struct {
		name string
		set  ConditionSet
		text string
		want bool
	}{
		{"any matches one", ConditionSet{Keywords: []string{"urgente", "reclamação"}}, "isso é URGENTE", true},
		{"any matches none", ConditionSet{Keywords: []string{"urgente", "reclamação"}}, "bom dia", false},
		{"all matches all", ConditionSet{Keywords: []string{"cancelar", "plano"}, KeywordMatch: "all"}, "quero cancelar meu plano", true},
		{"all matches partial", ConditionSet{Keywords: []string{"cancelar", "plano"}, KeywordMatch: "all"}, "quero cancelar", false},
		{"case insensitive", ConditionSet{Keywords: []string{"Boleto"}}, "segunda via do BOLETO", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := &EvalContext{MessageText: tt.text, Now: time.Now()}
			got, _ := tt.set.evaluate(ec)
			if got != tt.want {
				t.Errorf("evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionSetBusinessHours(t *testing.T) {
	// 2026-01-07 is a Wednesday.
	workday := time.Date(2026, 1, 7, 10, 30, 0, 0, time.UTC)
	evening := time.Date(2026, 1, 7, 22, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 1, 4, 10, 30, 0, 0, time.UTC)

	window := &BusinessHoursCondition{Inside: true, Start: "08:00", End: "18:00"}
	outside := &BusinessHoursCondition{Inside: false, Start: "08:00", End: "18:00"}

	tests := []struct {
		name string
		cond *BusinessHoursCondition
		now  time.Time
		want bool
	}{
		{"inside during work hours", window, workday, true},
		{"inside in the evening", window, evening, false},
		{"inside on sunday", window, sunday, false},
		{"outside in the evening", outside, evening, true},
		{"outside during work hours", outside, workday, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := ConditionSet{BusinessHours: tt.cond}
			ec := &EvalContext{MessageText: "oi", Now: tt.now}
			got, _ := set.evaluate(ec)
			if got != tt.want {
				t.Errorf("evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionSetInactivity(t *testing.T) {
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	set := ConditionSet{InactivityMinutes: 60}

	tests := []struct {
		name string
		last time.Time
		want bool
	}{
		{"long silence", now.Add(-2 * time.Hour), true},
		{"recent activity", now.Add(-10 * time.Minute), false},
		{"no prior activity", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := &EvalContext{MessageText: "oi", Now: now, LastInteraction: tt.last}
			got, _ := set.evaluate(ec)
			if got != tt.want {
				t.Errorf("evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionSetNewContactAndTags(t *testing.T) {
	now := time.Now()

	newOnly := ConditionSet{NewContact: boolPtr(true)}
	if got, _ := newOnly.evaluate(&EvalContext{IsNewContact: true, Now: now}); !got {
		t.Error("newContact=true did not match a new contact")
	}
	if got, _ := newOnly.evaluate(&EvalContext{IsNewContact: false, Now: now}); got {
		t.Error("newContact=true matched a known contact")
	}

	vip := ConditionSet{HasTag: "vip"}
	if got, _ := vip.evaluate(&EvalContext{Tags: []string{"cliente", "vip"}, Now: now}); !got {
		t.Error("hasTag did not match a tagged contact")
	}
	if got, _ := vip.evaluate(&EvalContext{Tags: []string{"cliente"}, Now: now}); got {
		t.Error("hasTag matched an untagged contact")
	}
}

func TestConditionSetAllMustHold(t *testing.T) {
	set := ConditionSet{
		Keywords:   []string{"urgente"},
		NewContact: boolPtr(true),
	}
	now := time.Now()

	matched, met := set.evaluate(&EvalContext{MessageText: "urgente!", IsNewContact: true, Now: now})
	if !matched {
		t.Fatal("both conditions hold but the set did not match")
	}
	if len(met) != 2 {
		t.Errorf("met = %v, want both condition names", met)
	}

	matched, met = set.evaluate(&EvalContext{MessageText: "urgente!", IsNewContact: false, Now: now})
	if matched {
		t.Error("set matched with one condition failing")
	}
	if met != nil {
		t.Errorf("met = %v, want nil on a non-match", met)
	}
}

func TestConditionEvaluationIsPure(t *testing.T) {
	set := ConditionSet{Keywords: []string{"promoção"}}
	ec := &EvalContext{MessageText: "tem promoção hoje?", Now: time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)}

	first, _ := set.evaluate(ec)
	for i := 0; i < 5; i++ {
		got, _ := set.evaluate(ec)
		if got != first {
			t.Fatalf("evaluation %d = %v, differs from first = %v", i, got, first)
		}
	}
}
