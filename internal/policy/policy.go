// Package policy maps classifier confidence scores to an allow/block verdict.
// Decide is a pure function: identical scores always produce an identical
// verdict, which deterministic audit replay and the tests depend on.
package policy

import (
	"fmt"

	"vigil/internal/classifier"
)

// Outcome is the verdict over a set of scores.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeBlock Outcome = "block"
)

// Verdict is the result of evaluating scores against the policy.
type Verdict struct {
	Outcome Outcome

	// Reason names the category and level that triggered a block. Empty for
	// allow verdicts.
	Reason string

	// Category and Level identify the first blocking category hit, for
	// structured audit records.
	Category classifier.Category
	Level    classifier.Likelihood
}

// DefaultThreshold blocks at LIKELY or above.
const DefaultThreshold = classifier.LikelihoodLikely

// DefaultBlockingCategories are the categories that can trigger a block for
// this product. Violence, medical and spoof scores are recorded but
// informational.
func DefaultBlockingCategories() []classifier.Category {
	return []classifier.Category{classifier.CategoryAdult, classifier.CategoryRacy}
}

// Policy holds the threshold configuration. The zero value is not usable;
// construct with Default or fill both fields.
type Policy struct {
	Threshold classifier.Likelihood
	Blocking  []classifier.Category
}

// Default returns the production policy: block ADULT or RACY at LIKELY+.
func Default() Policy {
	return Policy{
		Threshold: DefaultThreshold,
		Blocking:  DefaultBlockingCategories(),
	}
}

// effectiveLevel folds the "when in doubt, block" rule: a category the
// classifier scored UNKNOWN, or failed to return at all, compares as the
// maximum ordinal. A transport failure never reaches this function; the
// pipeline routes those to the retry path before a verdict exists.
func effectiveLevel(scores classifier.Scores, category classifier.Category) classifier.Likelihood {
	level, ok := scores[category]
	if !ok || level == classifier.LikelihoodUnknown {
		return classifier.LikelihoodVeryLikely
	}
	return level
}

// Decide evaluates scores against the policy. Blocking categories are checked
// in their configured order and the first one at or above the threshold wins,
// so the verdict (including its reason) is deterministic.
func (p Policy) Decide(scores classifier.Scores) Verdict {
	for _, category := range p.Blocking {
		level := effectiveLevel(scores, category)
		if level >= p.Threshold {
			reported := scores[category]
			return Verdict{
				Outcome:  OutcomeBlock,
				Reason:   fmt.Sprintf("%s=%s at or above threshold %s", category, reported, p.Threshold),
				Category: category,
				Level:    reported,
			}
		}
	}
	return Verdict{Outcome: OutcomeAllow}
}
