// Package classify assigns each incoming student message one of a small set
// of categories that drive routing: normal teaching, safety escalation, or a
// direct-answer constraint test. Detection is delegated to an injected
// SignalModel so tests can substitute a deterministic fake.
package classify

import (
	"context"
	"log"
	"time"
)

// Category is the classification outcome for a message.
type Category string

const (
	// CategoryTeaching is the default: route to the tutor with Socratic guidance.
	CategoryTeaching Category = "teaching"
	// CategoryEscalation marks a message that requires Guardian intervention.
	CategoryEscalation Category = "escalation"
	// CategoryConstraintGuard marks a direct-answer request (arithmetic or
	// fact lookup) that must be answered with guidance, not the value.
	CategoryConstraintGuard Category = "constraint_guard"
)

// Fixed confidence levels keep classification deterministic and comparable.
const (
	EscalationConfidence = 0.95
	ConstraintConfidence = 0.9
	TeachingConfidence   = 0.6
	FailSafeConfidence   = 0.5
)

// Message is the immutable classifier input.
type Message struct {
	SessionID string
	Channel   string
	Text      string
	Timestamp time.Time
}

// Classification is the result of inspecting one message. Arithmetic is set
// only for CategoryConstraintGuard and carries the parsed expression so the
// reply guard can compute the value the tutor must not reveal.
type Classification struct {
	Category      Category
	Confidence    float64
	MatchedSignal string
	Arithmetic    *Arithmetic
}

// Signal is the raw detection produced by a SignalModel.
type Signal struct {
	Category      Category
	Confidence    float64
	MatchedSignal string
	Arithmetic    *Arithmetic
}

// SignalModel detects escalation and constraint signals in message text.
// Implementations must be stateless: identical text yields identical signals.
type SignalModel interface {
	Detect(ctx context.Context, text string) (Signal, error)
}

// Classifier wraps a SignalModel and applies the fail-safe policy.
type Classifier struct {
	model SignalModel
}

func New(model SignalModel) *Classifier {
	return &Classifier{model: model}
}

// Classify inspects msg and returns exactly one Classification.
//
// A model failure never degrades to Teaching: the cost of a missed crisis
// signal is asymmetrically higher than a false positive, so errors map to
// Escalation at FailSafeConfidence.
func (c *Classifier) Classify(ctx context.Context, msg Message) Classification {
	sig, err := c.model.Detect(ctx, msg.Text)
	if err != nil {
		log.Printf("[classify] signal model error, failing safe to escalation: %v", err)
		return Classification{
			Category:   CategoryEscalation,
			Confidence: FailSafeConfidence,
		}
	}

	return Classification{
		Category:      sig.Category,
		Confidence:    sig.Confidence,
		MatchedSignal: sig.MatchedSignal,
		Arithmetic:    sig.Arithmetic,
	}
}
