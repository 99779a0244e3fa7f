package agent

import (
	"regexp"
	"strings"
)

// Code and answer markers the model emits. Matching is case-insensitive and
// spans newlines; an unterminated opening marker matches nothing.
var (
	codeMarker     = regexp.MustCompile(`(?is)<code>(.*?)</code>`)
	responseMarker = regexp.MustCompile(`(?is)<response>(.*?)</response>`)
)

// Action is the classification of one assistant message: either a terminal
// Answer or a CodeBatch to execute. It is a closed union.
type Action interface {
	isAction()
}

// Answer is a terminal reply; Text joins all response segments in order.
type Answer struct {
	Text string
}

func (Answer) isAction() {}

// CodeBatch holds the executable blocks of one assistant message, in the
// order they appeared.
type CodeBatch struct {
	Blocks []string
}

func (CodeBatch) isAction() {}

// FormatError reports a malformed or ambiguous assistant message. It is fed
// back to the model as a correction prompt, never treated as fatal.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return e.Reason }

// Parse classifies one assistant message. A message must contain code markers
// or response markers, not both and not neither. Marker contents are trimmed
// of surrounding whitespace; empty blocks are kept so the model hears about
// them as execution input rather than silently vanishing.
func Parse(message string) (Action, error) {
	codes := extract(codeMarker, message)
	responses := extract(responseMarker, message)

	switch {
	case len(codes) > 0 && len(responses) > 0:
		return nil, &FormatError{Reason: "message mixes <code> and <response> markers; use exactly one kind"}
	case len(codes) > 0:
		return CodeBatch{Blocks: codes}, nil
	case len(responses) > 0:
		return Answer{Text: strings.Join(responses, "\n")}, nil
	default:
		return nil, &FormatError{Reason: "message contains neither <code> nor <response> markers; wrap code in <code>...</code> or a final answer in <response>...</response>"}
	}
}

func extract(re *regexp.Regexp, message string) []string {
	matches := re.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}
