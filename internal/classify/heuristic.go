package classify

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// defaultTriggers is the safety lexicon. Matching is case-insensitive
// substring search, so "hit" also covers "hits me" and "hitting".
// Order matters only for which trigger is reported as the matched signal.
var defaultTriggers = []string{
	"hurt",
	"scared",
	"hit",
	"yell",
	"angry",
	"sad",
	"family problems",
	"don't tell",
	"dont tell",
	"kill myself",
	"want to die",
	"suicide",
	"cutting myself",
	"won't feed",
	"afraid to go home",
}

// exprPattern finds an arithmetic expression: two numbers joined by an
// operator word or symbol.
var exprPattern = regexp.MustCompile(
	`(\d+(?:\.\d+)?)\s*(times|multiplied by|plus|minus|divided by|over|[x×*+/-])\s*(\d+(?:\.\d+)?)`)

// askPattern matches direct-answer framing ("what's ...", "how much is ...").
var askPattern = regexp.MustCompile(
	`(?i)\b(what'?s|what’s|what is|how much is|calculate|compute|solve|tell me the answer)\b`)

// barePattern matches a message that is nothing but an expression, optionally
// followed by "=" or "?".
var barePattern = regexp.MustCompile(
	`^\s*\d+(?:\.\d+)?\s*(?:times|multiplied by|plus|minus|divided by|over|[x×*+/-])\s*\d+(?:\.\d+)?\s*[=?]*\s*$`)

// Arithmetic is a parsed two-operand expression from a direct-answer request.
type Arithmetic struct {
	A  float64
	B  float64
	Op string // one of "*", "+", "-", "/"
}

// Value computes the expression. ok is false for division by zero.
func (a Arithmetic) Value() (v float64, ok bool) {
	switch a.Op {
	case "*":
		return a.A * a.B, true
	case "+":
		return a.A + a.B, true
	case "-":
		return a.A - a.B, true
	case "/":
		if a.B == 0 {
			return 0, false
		}
		return a.A / a.B, true
	}
	return 0, false
}

// Literal returns the computed value formatted the way it would appear in a
// reply ("345", "7.5"), or "" when the value is not computable.
func (a Arithmetic) Literal() string {
	v, ok := a.Value()
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// HeuristicModel is the default SignalModel: a trigger lexicon for
// escalation and regular expressions for direct-answer arithmetic. It is a
// pure function of the text and never returns an error.
type HeuristicModel struct {
	triggers []string
}

// NewHeuristicModel builds the default model, extended (never reduced) by
// extraTriggers from configuration.
func NewHeuristicModel(extraTriggers []string) *HeuristicModel {
	triggers := make([]string, 0, len(defaultTriggers)+len(extraTriggers))
	triggers = append(triggers, defaultTriggers...)
	for _, t := range extraTriggers {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			triggers = append(triggers, t)
		}
	}
	return &HeuristicModel{triggers: triggers}
}

// Detect applies escalation detection first: a safety trigger anywhere in the
// message wins regardless of any teaching-like or arithmetic surface
// structure (priority escalation > constraint > teaching).
func (h *HeuristicModel) Detect(_ context.Context, text string) (Signal, error) {
	lower := strings.ToLower(text)

	for _, trigger := range h.triggers {
		if strings.Contains(lower, trigger) {
			return Signal{
				Category:      CategoryEscalation,
				Confidence:    EscalationConfidence,
				MatchedSignal: trigger,
			}, nil
		}
	}

	if arith, matched := detectArithmetic(lower); arith != nil {
		return Signal{
			Category:      CategoryConstraintGuard,
			Confidence:    ConstraintConfidence,
			MatchedSignal: matched,
			Arithmetic:    arith,
		}, nil
	}

	return Signal{
		Category:   CategoryTeaching,
		Confidence: TeachingConfidence,
	}, nil
}

// detectArithmetic reports a direct-answer arithmetic request: an expression
// plus either question framing or a bare-expression message.
func detectArithmetic(lower string) (*Arithmetic, string) {
	m := exprPattern.FindStringSubmatch(lower)
	if m == nil {
		return nil, ""
	}
	if !askPattern.MatchString(lower) && !barePattern.MatchString(lower) {
		return nil, ""
	}

	a, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, ""
	}
	b, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, ""
	}

	var op string
	switch m[2] {
	case "times", "multiplied by", "x", "×", "*":
		op = "*"
	case "plus", "+":
		op = "+"
	case "minus", "-":
		op = "-"
	case "divided by", "over", "/":
		op = "/"
	default:
		return nil, ""
	}

	return &Arithmetic{A: a, B: b, Op: op}, m[0]
}
