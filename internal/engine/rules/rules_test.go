package rules

import (
	"testing"

	"inspectline/internal/domain"
)

func pagesWith(q domain.Question) []domain.Page {
	return []domain.Page{{ID: "p1", Questions: []domain.Question{q}}}
}

func TestStringify(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"No", "No"},
		{true, "true"},
		{false, "false"},
		{float64(3), "3"},
		{float64(3.5), "3.5"},
		{7, "7"},
	}
	for _, c := range cases {
		if got := Stringify(c.in); got != c.want {
			t.Errorf("Stringify(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEvaluateEqualityMatch(t *testing.T) {
	q := domain.Question{
		ID:   "q1",
		Text: "Packaging intact?",
		Rules: []domain.Rule{{
			Condition: domain.RuleCondition{Kind: "equals", Equals: "No"},
		}},
	}
	res := Evaluate(pagesWith(q), map[string]any{"q1": "No"})
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	if res.Matches[0].QuestionID != "q1" || res.Matches[0].Value != "No" {
		t.Fatalf("unexpected match %+v", res.Matches[0])
	}
	if len(res.Notifications) != 0 {
		t.Fatalf("plain rule should not notify, got %v", res.Notifications)
	}

	res = Evaluate(pagesWith(q), map[string]any{"q1": "Yes"})
	if len(res.Matches) != 0 {
		t.Fatalf("non-matching value fired rule: %+v", res.Matches)
	}

	res = Evaluate(pagesWith(q), map[string]any{})
	if len(res.Matches) != 0 {
		t.Fatal("absent answer should never trigger")
	}
}

func TestEvaluateNumericAnswer(t *testing.T) {
	q := domain.Question{
		ID:    "q2",
		Rules: []domain.Rule{{Condition: domain.RuleCondition{Kind: "equals", Equals: "0"}}},
	}
	// JSON decoding hands numbers over as float64
	res := Evaluate(pagesWith(q), map[string]any{"q2": float64(0)})
	if len(res.Matches) != 1 {
		t.Fatalf("numeric zero should match %q, got %d matches", "0", len(res.Matches))
	}
}

func TestEvaluateEvidenceDemands(t *testing.T) {
	q := domain.Question{
		ID: "q1",
		Rules: []domain.Rule{{
			Condition:    domain.RuleCondition{Kind: "equals", Equals: "No"},
			RequireText:  true,
			RequireMedia: true,
		}},
	}

	res := Evaluate(pagesWith(q), map[string]any{"q1": "No"})
	if len(res.Deficiencies) != 1 {
		t.Fatalf("deficiencies = %d, want 1", len(res.Deficiencies))
	}
	d := res.Deficiencies[0]
	if d.QuestionID != "q1" || len(d.Missing) != 2 || d.Missing[0] != "text" || d.Missing[1] != "media" {
		t.Fatalf("unexpected deficiency %+v", d)
	}

	res = Evaluate(pagesWith(q), map[string]any{
		"q1":                 "No",
		"q1__evidence_text":  "seal broken on carton 4",
		"q1__evidence_media": []any{"photo-1.jpg"},
	})
	if len(res.Deficiencies) != 0 {
		t.Fatalf("satisfied evidence still flagged: %+v", res.Deficiencies)
	}

	// whitespace-only text and empty media list do not count
	res = Evaluate(pagesWith(q), map[string]any{
		"q1":                 "No",
		"q1__evidence_text":  "   ",
		"q1__evidence_media": []any{},
	})
	if len(res.Deficiencies) != 1 {
		t.Fatalf("empty evidence accepted: %+v", res.Deficiencies)
	}
}

func TestEvaluateNotificationMessagePriority(t *testing.T) {
	explicit := domain.Question{
		ID:   "q1",
		Text: "Label correct?",
		Rules: []domain.Rule{{
			Condition: domain.RuleCondition{Kind: "equals", Equals: "No"},
			Notify:    true,
			Message:   "Label mismatch found",
		}},
	}
	res := Evaluate(pagesWith(explicit), map[string]any{"q1": "No"})
	if len(res.Notifications) != 1 || res.Notifications[0].Message != "Label mismatch found" {
		t.Fatalf("explicit message lost: %+v", res.Notifications)
	}

	mediaOnly := domain.Question{
		ID:   "q2",
		Text: "Seal intact?",
		Rules: []domain.Rule{{
			Condition:    domain.RuleCondition{Kind: "equals", Equals: "No"},
			RequireMedia: true,
		}},
	}
	res = Evaluate(pagesWith(mediaOnly), map[string]any{
		"q2":                 "No",
		"q2__evidence_media": []any{"x.jpg"},
	})
	if len(res.Notifications) != 1 {
		t.Fatalf("require_media should notify, got %v", res.Notifications)
	}
	if res.Notifications[0].Message != `Media evidence required for "Seal intact?"` {
		t.Fatalf("message = %q", res.Notifications[0].Message)
	}

	generic := domain.Question{
		ID: "q3",
		Rules: []domain.Rule{{
			Condition: domain.RuleCondition{Kind: "equals", Equals: "No"},
			Notify:    true,
		}},
	}
	res = Evaluate(pagesWith(generic), map[string]any{"q3": "No"})
	if len(res.Notifications) != 1 {
		t.Fatal("notify rule produced no notification")
	}
	if res.Notifications[0].Message != `Rule triggered on "q3"` {
		t.Fatalf("message = %q", res.Notifications[0].Message)
	}
}

func TestEvaluateDocumentOrder(t *testing.T) {
	pages := []domain.Page{
		{ID: "p1", Questions: []domain.Question{
			{ID: "a", Rules: []domain.Rule{{Condition: domain.RuleCondition{Equals: "x"}}}},
			{ID: "b", Rules: []domain.Rule{{Condition: domain.RuleCondition{Equals: "x"}}}},
		}},
		{ID: "p2", Questions: []domain.Question{
			{ID: "c", Rules: []domain.Rule{{Condition: domain.RuleCondition{Equals: "x"}}}},
		}},
	}
	res := Evaluate(pages, map[string]any{"a": "x", "b": "x", "c": "x"})
	if len(res.Matches) != 3 {
		t.Fatalf("matches = %d, want 3", len(res.Matches))
	}
	for i, want := range []string{"a", "b", "c"} {
		if res.Matches[i].QuestionID != want {
			t.Fatalf("match %d = %s, want %s", i, res.Matches[i].QuestionID, want)
		}
	}
}
