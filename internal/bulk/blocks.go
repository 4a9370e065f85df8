package bulk

import "strings"

// RawBlock is one marker-delimited span of source text.
//
// Source is the 0-based position of the block in the document; it is used
// for error attribution and to preserve author order through parsing.
type RawBlock struct {
	Tag    string // "MSG" or "Q"
	Lines  []string
	Source int
}

// SplitBlocks cuts a document into ordered raw blocks. A new block starts
// on every line that is exactly a block marker (#MSG, #Q, #Q<digits>; the
// numeric suffix is cosmetic). Lines before the first marker are ignored.
// Leading and trailing blank lines of a block are trimmed; interior blank
// lines stay, message blocks keep them as content.
//
// Pure function of the input; returns nil when no marker is found.
func SplitBlocks(text string) []RawBlock {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	var blocks []RawBlock
	for i := 0; i < len(lines); {
		tag, ok := blockTag(lines[i])
		if !ok {
			i++
			continue
		}
		j := i + 1
		for j < len(lines) {
			if _, next := blockTag(lines[j]); next {
				break
			}
			j++
		}
		blocks = append(blocks, RawBlock{
			Tag:    tag,
			Lines:  trimBlankEdges(lines[i+1 : j]),
			Source: len(blocks),
		})
		i = j
	}
	return blocks
}

func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	out := make([]string, end-start)
	copy(out, lines[start:end])
	return out
}

// blockTag matches a whole line against the block-start markers and
// returns the normalized tag ("MSG" or "Q").
func blockTag(line string) (string, bool) {
	body, ok := hashBody(line)
	if !ok {
		return "", false
	}
	up := strings.ToUpper(body)
	if up == "MSG" {
		return "MSG", true
	}
	if strings.HasPrefix(up, "Q") && allDigits(up[1:]) {
		return "Q", true
	}
	return "", false
}

// answerTag matches "#ANS: <label>" / "#ANSWER: <label>".
func answerTag(line string) (string, bool) {
	return tagValue(line, "ANS", "ANSWER")
}

// explanationTag matches "#EXP: <text>" / "#EXPLANATION: <text>".
func explanationTag(line string) (string, bool) {
	return tagValue(line, "EXP", "EXPLANATION")
}

func tagValue(line string, names ...string) (string, bool) {
	body, ok := hashBody(line)
	if !ok {
		return "", false
	}
	colon := strings.IndexByte(body, ':')
	if colon < 0 {
		return "", false
	}
	name := strings.ToUpper(strings.TrimSpace(body[:colon]))
	for _, n := range names {
		if name == n {
			return strings.TrimSpace(body[colon+1:]), true
		}
	}
	return "", false
}

// optionLine matches "<label>) <text>" where label is a run of letters or
// digits. It returns the label and the trimmed option text.
func optionLine(line string) (label, text string, ok bool) {
	s := strings.TrimSpace(line)
	par := strings.IndexByte(s, ')')
	if par <= 0 {
		return "", "", false
	}
	label = s[:par]
	if !allAlnum(label) {
		return "", "", false
	}
	text = strings.TrimSpace(s[par+1:])
	if text == "" {
		return "", "", false
	}
	return label, text, true
}

// hashBody strips the leading "#" (with surrounding whitespace) from a
// line, returning the remainder. It rejects lines that don't begin with #.
func hashBody(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "#") {
		return "", false
	}
	return strings.TrimSpace(s[1:]), true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allAlnum(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
