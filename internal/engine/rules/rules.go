// Package rules evaluates per-question response rules: equality triggers,
// evidence demands, and manager notifications.
package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"inspectline/internal/domain"
)

// Synthetic response key suffixes carrying evidence for a question.
const (
	EvidenceTextSuffix  = "__evidence_text"
	EvidenceMediaSuffix = "__evidence_media"
)

// Deficiency names the evidence a triggered rule demanded but did not get.
type Deficiency struct {
	QuestionID string   `json:"question_id"`
	Missing    []string `json:"missing"`
}

// Pending is a notification to deliver once the submission persists.
type Pending struct {
	QuestionID   string `json:"question_id"`
	QuestionText string `json:"question_text"`
	Message      string `json:"message"`
}

// Result collects everything one evaluation pass produced.
type Result struct {
	Matches       []domain.RuleMatch
	Deficiencies  []Deficiency
	Notifications []Pending
}

// Stringify renders a response value the way rule authors see it. Whole
// floats print without a fraction so JSON numbers compare as integers.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Evaluate walks pages and questions in document order and fires every rule
// whose condition matches the stringified response. A question with no
// response value never triggers.
func Evaluate(pages []domain.Page, responses map[string]any) Result {
	var res Result
	for _, page := range pages {
		for _, q := range page.Questions {
			raw, ok := responses[q.ID]
			if !ok {
				continue
			}
			value := Stringify(raw)
			for _, rule := range q.Rules {
				if rule.Condition.Kind != "" && rule.Condition.Kind != "equals" {
					continue
				}
				if value != rule.Condition.Equals {
					continue
				}
				match := domain.RuleMatch{
					QuestionID:   q.ID,
					Value:        value,
					RequireText:  rule.RequireText,
					RequireMedia: rule.RequireMedia,
					Notify:       rule.Notify,
					Message:      rule.Message,
				}
				missing := missingEvidence(rule, q.ID, responses)
				if len(missing) > 0 {
					res.Deficiencies = append(res.Deficiencies, Deficiency{QuestionID: q.ID, Missing: missing})
				}
				if rule.Notify || rule.RequireMedia {
					match.Notified = true
					res.Notifications = append(res.Notifications, Pending{
						QuestionID:   q.ID,
						QuestionText: q.Text,
						Message:      notificationMessage(rule, q),
					})
				}
				res.Matches = append(res.Matches, match)
			}
		}
	}
	return res
}

func missingEvidence(rule domain.Rule, questionID string, responses map[string]any) []string {
	var missing []string
	if rule.RequireText && !hasEvidence(responses[questionID+EvidenceTextSuffix]) {
		missing = append(missing, "text")
	}
	if rule.RequireMedia && !hasEvidence(responses[questionID+EvidenceMediaSuffix]) {
		missing = append(missing, "media")
	}
	return missing
}

func hasEvidence(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func notificationMessage(rule domain.Rule, q domain.Question) string {
	if rule.Message != "" {
		return rule.Message
	}
	label := q.Text
	if label == "" {
		label = q.ID
	}
	if rule.RequireMedia {
		return fmt.Sprintf("Media evidence required for %q", label)
	}
	return fmt.Sprintf("Rule triggered on %q", label)
}
