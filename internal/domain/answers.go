package domain

import (
	"sort"
	"strings"
)

// EvaluateAnswer applies the question type's comparison rule to a submission.
// Exact-match only: single_choice requires the one correct option id,
// multi_choice requires the full correct set, short_text compares trimmed and
// case-insensitive. No partial credit at this layer.
func EvaluateAnswer(q QuestionRecord, sub AnswerSubmission) bool {
	switch q.Type {
	case SingleChoice:
		if len(sub.OptionIDs) != 1 {
			return false
		}
		for _, opt := range q.Options {
			if opt.Correct {
				return opt.ID == sub.OptionIDs[0]
			}
		}
		return false
	case MultiChoice:
		correct := make([]string, 0, len(q.Options))
		for _, opt := range q.Options {
			if opt.Correct {
				correct = append(correct, opt.ID)
			}
		}
		if len(correct) == 0 || len(sub.OptionIDs) != len(correct) {
			return false
		}
		submitted := append([]string(nil), sub.OptionIDs...)
		sort.Strings(correct)
		sort.Strings(submitted)
		for i := range correct {
			if correct[i] != submitted[i] {
				return false
			}
		}
		return true
	case ShortText:
		return strings.EqualFold(strings.TrimSpace(sub.Text), strings.TrimSpace(q.CorrectText))
	default:
		return false
	}
}

// Sanitize strips correct-answer information before a question leaves the engine.
func (q QuestionRecord) Sanitize() QuestionRecord {
	out := q
	out.CorrectText = ""
	if len(q.Options) > 0 {
		out.Options = make([]Option, len(q.Options))
		for i, opt := range q.Options {
			out.Options[i] = Option{ID: opt.ID, Text: opt.Text}
		}
	}
	return out
}
