package gemini

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Result is the model's verdict on a market question.
type Result string

const (
	ResultYes          Result = "YES"
	ResultNo           Result = "NO"
	ResultInconclusive Result = "INCONCLUSIVE"
)

// MaxConfidence is 100% in basis points.
const MaxConfidence = 10000

// Code is the on-chain outcome code: NO=1, YES=2, INCONCLUSIVE=3.
func (r Result) Code() uint8 {
	switch r {
	case ResultNo:
		return 1
	case ResultYes:
		return 2
	default:
		return 3
	}
}

// Valid reports whether r is one of the three known verdicts.
func (r Result) Valid() bool {
	return r == ResultYes || r == ResultNo || r == ResultInconclusive
}

// ResultFromCode is the inverse of Code.
func ResultFromCode(code uint8) (Result, error) {
	switch code {
	case 1:
		return ResultNo, nil
	case 2:
		return ResultYes, nil
	case 3:
		return ResultInconclusive, nil
	default:
		return "", fmt.Errorf("unknown outcome code %d", code)
	}
}

// Outcome is the parsed verdict.
type Outcome struct {
	Result        Result `json:"result"`
	ConfidenceBps uint16 `json:"confidence"`
}

var (
	// ErrNoText means the reply did not contain candidates[0].content.parts[0].text.
	ErrNoText = errors.New("gemini: reply has no candidate text")
	// ErrBadOutcome means the candidate text was not a valid verdict object.
	ErrBadOutcome = errors.New("gemini: malformed outcome")
)

const textPath = "candidates.0.content.parts.0.text"

var fence = regexp.MustCompile("```json\n?|\n?```")

// StripFence removes ```json fences from text and trims surrounding space.
func StripFence(text string) string {
	return strings.TrimSpace(fence.ReplaceAllString(text, ""))
}

// ParseOutcome extracts and validates the verdict from a provider reply body.
func ParseOutcome(body []byte) (Outcome, error) {
	if !gjson.ValidBytes(body) {
		return Outcome{}, fmt.Errorf("%w: body is not JSON", ErrNoText)
	}
	text := gjson.GetBytes(body, textPath)
	if text.Type != gjson.String || text.Str == "" {
		return Outcome{}, ErrNoText
	}
	return ParseOutcomeText(text.Str)
}

// ParseOutcomeText validates a verdict object, optionally fenced.
func ParseOutcomeText(text string) (Outcome, error) {
	clean := StripFence(text)
	if !gjson.Valid(clean) {
		return Outcome{}, fmt.Errorf("%w: not JSON: %q", ErrBadOutcome, clean)
	}
	doc := gjson.Parse(clean)
	if !doc.IsObject() {
		return Outcome{}, fmt.Errorf("%w: not an object: %q", ErrBadOutcome, clean)
	}

	res := doc.Get("result")
	if res.Type != gjson.String {
		return Outcome{}, fmt.Errorf("%w: result missing or not a string", ErrBadOutcome)
	}
	result := Result(res.Str)
	if !result.Valid() {
		return Outcome{}, fmt.Errorf("%w: unknown result %q", ErrBadOutcome, res.Str)
	}

	conf := doc.Get("confidence")
	if conf.Type != gjson.Number {
		return Outcome{}, fmt.Errorf("%w: confidence missing or not a number", ErrBadOutcome)
	}
	if conf.Num != math.Trunc(conf.Num) || conf.Num < 0 || conf.Num > MaxConfidence {
		return Outcome{}, fmt.Errorf("%w: confidence %s outside 0..%d", ErrBadOutcome, conf.Raw, MaxConfidence)
	}

	return Outcome{Result: result, ConfidenceBps: uint16(conf.Num)}, nil
}
