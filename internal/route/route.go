// Package route turns a classification into a response strategy. The mapping
// is exhaustive over the category variants and has no override path: an
// escalation always routes to Guardian.
package route

import (
	"strings"

	"github.com/sparkforge/sparkgate/internal/classify"
	"github.com/sparkforge/sparkgate/internal/spark"
)

type Strategy string

const (
	// TutorReply forwards the message to the active spark's model runtime.
	TutorReply Strategy = "tutor_reply"
	// GuardianEscalate hands the session to Guardian with a disclosure notice.
	GuardianEscalate Strategy = "guardian_escalate"
)

// Decision is the routing outcome for one classified message.
type Decision struct {
	Strategy Strategy
	// Spark the message is answered by.
	Spark spark.ID
	// DisclosureNotice is shown to the user before the reply when mandatory
	// reporting applies. Non-empty for every GuardianEscalate decision.
	DisclosureNotice string
	// Constraint is an extra per-message instruction passed to the runtime.
	Constraint string
	// ForbiddenLiteral is the computed value the reply must not contain
	// (set for constraint-guarded arithmetic requests).
	ForbiddenLiteral string
}

const socraticConstraint = "Respond with a guiding question that helps the student " +
	"take the next step themselves. Do not state the final answer."

const noAnswerConstraint = "The student asked for a direct computed answer. Do not " +
	"state the numeric result. Walk them through how to work it out, one guiding " +
	"question at a time."

// Route maps a classification to a routing decision. active is the spark
// currently attached to the session; Teaching and ConstraintGuard stay on it,
// Escalation always moves to Guardian.
func Route(cls classify.Classification, active spark.ID) Decision {
	switch cls.Category {
	case classify.CategoryEscalation:
		notice := spark.RoutingNotice + "\n\n" + spark.ReportingTransparency
		if active == spark.Guardian {
			// Already with Guardian: skip the hand-off line, keep the
			// reporting transparency. The notice is never empty.
			notice = spark.ReportingTransparency
		}
		return Decision{
			Strategy:         GuardianEscalate,
			Spark:            spark.Guardian,
			DisclosureNotice: notice,
		}

	case classify.CategoryConstraintGuard:
		d := Decision{
			Strategy:   TutorReply,
			Spark:      active,
			Constraint: noAnswerConstraint,
		}
		if cls.Arithmetic != nil {
			d.ForbiddenLiteral = cls.Arithmetic.Literal()
		}
		return d

	default: // classify.CategoryTeaching
		return Decision{
			Strategy:   TutorReply,
			Spark:      active,
			Constraint: socraticConstraint,
		}
	}
}

// FallbackGuidance is the reply used when the tutoring provider is
// unreachable or when a constraint-guarded reply had to be withheld.
const FallbackGuidance = "I'm having trouble connecting right now, but let's keep " +
	"thinking together: what part of the problem could you try first? Breaking it " +
	"into smaller steps often helps."

// ScrubAnswer enforces the no-direct-answer constraint after the model
// replies. If the reply leaks the forbidden literal it is replaced with
// fallback guidance. Returns the reply to deliver and whether it was scrubbed.
func ScrubAnswer(reply, literal string) (string, bool) {
	if literal == "" || !containsNumber(reply, literal) {
		return reply, false
	}
	return FallbackGuidance, true
}

// containsNumber reports whether literal appears in s as a standalone number
// rather than as a digit run inside a longer one ("345" in "1345" is fine).
func containsNumber(s, literal string) bool {
	for i := 0; ; {
		idx := strings.Index(s[i:], literal)
		if idx < 0 {
			return false
		}
		start := i + idx
		end := start + len(literal)
		beforeOK := start == 0 || !isNumChar(s[start-1])
		afterOK := end == len(s) || !continuesNumber(s, end)
		if beforeOK && afterOK {
			return true
		}
		i = start + 1
		if i >= len(s) {
			return false
		}
	}
}

func isNumChar(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.'
}

// continuesNumber reports whether the text at pos extends the number that
// ends there. A '.' only counts when a digit follows, so a match at the end
// of a sentence ("is 345.") is still standalone while "345.5" is not.
func continuesNumber(s string, pos int) bool {
	c := s[pos]
	if c >= '0' && c <= '9' {
		return true
	}
	return c == '.' && pos+1 < len(s) && s[pos+1] >= '0' && s[pos+1] <= '9'
}
