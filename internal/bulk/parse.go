package bulk

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Telegram poll limits. Blocks exceeding them fail parsing up front so the
// author fixes the text instead of the job aborting mid-send.
const (
	maxPollOptions   = 10
	maxQuestionRunes = 300
	maxOptionRunes   = 100
)

// Parse turns a bulk document into an ordered action list.
//
// Parsing is all-or-nothing: the first structural violation aborts the
// whole document and returns a single *ParseError; no partial list is ever
// returned alongside an error. The returned slice preserves block order
// exactly, and running Parse twice on the same input yields the same list.
func Parse(text string) ([]Action, error) {
	blocks := SplitBlocks(text)
	if len(blocks) == 0 {
		return nil, parseErr(-1, NoBlocksDetected, "no #MSG or #Q blocks found")
	}

	actions := make([]Action, 0, len(blocks))
	for _, b := range blocks {
		var (
			act Action
			err *ParseError
		)
		switch b.Tag {
		case "MSG":
			act = buildMessage(b)
		case "Q":
			act, err = buildPoll(b)
		default:
			err = parseErr(b.Source, MalformedBlock, "unknown block tag %q", b.Tag)
		}
		if err != nil {
			return nil, err
		}
		actions = append(actions, act)
	}
	return actions, nil
}

// buildMessage joins the block body into one message. An empty body is
// still a valid action; rejecting empty text is left to the transport.
func buildMessage(b RawBlock) Action {
	return MessageAction{Text: strings.TrimSpace(strings.Join(b.Lines, "\n"))}
}

func buildPoll(b RawBlock) (Action, *ParseError) {
	var (
		qLines  []string
		labels  []string
		options []string
		answer  string
		hasAns  bool
		expl    string
		hasExp  bool
	)

	for i := 0; i < len(b.Lines); {
		line := b.Lines[i]

		if label, text, ok := optionLine(line); ok {
			for _, seen := range labels {
				if strings.EqualFold(seen, label) {
					return nil, parseErr(b.Source, MalformedBlock, "duplicate option label %q", label)
				}
			}
			labels = append(labels, label)
			options = append(options, text)
			i++
			continue
		}
		if v, ok := answerTag(line); ok {
			answer, hasAns = v, true
			i++
			continue
		}
		if v, ok := explanationTag(line); ok {
			// The explanation absorbs following lines until the next tag
			// or option line.
			parts := []string{v}
			j := i + 1
			for j < len(b.Lines) {
				next := b.Lines[j]
				if _, ok := answerTag(next); ok {
					break
				}
				if _, ok := explanationTag(next); ok {
					break
				}
				if _, _, ok := optionLine(next); ok {
					break
				}
				if strings.TrimSpace(next) != "" {
					parts = append(parts, strings.TrimSpace(next))
				}
				j++
			}
			expl, hasExp = strings.TrimSpace(strings.Join(parts, "\n")), true
			i = j
			continue
		}
		// Before the first option, non-blank lines are question text.
		// Anything unrecognized after the options is ignored.
		if len(options) == 0 && strings.TrimSpace(line) != "" {
			qLines = append(qLines, strings.TrimSpace(line))
		}
		i++
	}

	question := strings.Join(qLines, " ")
	switch {
	case question == "":
		return nil, parseErr(b.Source, MalformedBlock, "question text is missing")
	case utf8.RuneCountInString(question) > maxQuestionRunes:
		return nil, parseErr(b.Source, MalformedBlock, "question exceeds %d characters", maxQuestionRunes)
	case len(options) < 2:
		return nil, parseErr(b.Source, MissingOptions, "question needs at least 2 options, got %d", len(options))
	case len(options) > maxPollOptions:
		return nil, parseErr(b.Source, MalformedBlock, "poll allows at most %d options, got %d", maxPollOptions, len(options))
	}
	for _, opt := range options {
		if utf8.RuneCountInString(opt) > maxOptionRunes {
			return nil, parseErr(b.Source, MalformedBlock, "option exceeds %d characters", maxOptionRunes)
		}
	}

	correct := -1
	if hasAns {
		idx, ok := answerIndex(answer, labels)
		if !ok {
			return nil, parseErr(b.Source, InvalidAnswerLetter, "answer %q does not match any option", answer)
		}
		correct = idx
	} else if hasExp {
		return nil, parseErr(b.Source, ExplanationWithoutAnswer, "explanation requires an #ANS tag")
	}

	return PollAction{
		Question:      question,
		Options:       options,
		CorrectOption: correct,
		Explanation:   expl,
	}, nil
}

// answerIndex resolves an answer label to a 0-based option index. It
// accepts a 1-based number, a single letter (A maps to the first option),
// or an exact match of one of the collected option labels.
func answerIndex(answer string, labels []string) (int, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(answer); err == nil {
		if n >= 1 && n <= len(labels) {
			return n - 1, true
		}
		return 0, false
	}
	if len(answer) == 1 {
		c := strings.ToUpper(answer)[0]
		if c >= 'A' && c <= 'Z' {
			idx := int(c - 'A')
			if idx < len(labels) {
				return idx, true
			}
			return 0, false
		}
	}
	for i, l := range labels {
		if strings.EqualFold(l, answer) {
			return i, true
		}
	}
	return 0, false
}
