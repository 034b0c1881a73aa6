// Package classifier defines the boundary to the external image classification
// service. The service is consumed as a pure function from image bytes to
// per-category confidence levels; it is assumed to be slow and unreliable, so
// callers must treat every error as transient and route the item to the retry
// path rather than deciding on an absent result.
package classifier

import (
	"context"
	"strings"
)

// Likelihood is the ordinal confidence scale returned by the classifier.
// The zero value is Unknown, which callers must treat as the most suspicious
// level rather than the least.
type Likelihood int

const (
	LikelihoodUnknown Likelihood = iota
	LikelihoodVeryUnlikely
	LikelihoodUnlikely
	LikelihoodPossible
	LikelihoodLikely
	LikelihoodVeryLikely
)

var likelihoodNames = map[Likelihood]string{
	LikelihoodUnknown:      "UNKNOWN",
	LikelihoodVeryUnlikely: "VERY_UNLIKELY",
	LikelihoodUnlikely:     "UNLIKELY",
	LikelihoodPossible:     "POSSIBLE",
	LikelihoodLikely:       "LIKELY",
	LikelihoodVeryLikely:   "VERY_LIKELY",
}

func (l Likelihood) String() string {
	if name, ok := likelihoodNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLikelihood converts a level name (as returned by the classifier API or
// read from configuration) into a Likelihood. Unrecognized names map to
// Unknown with ok=false.
func ParseLikelihood(s string) (Likelihood, bool) {
	for l, name := range likelihoodNames {
		if name == strings.ToUpper(strings.TrimSpace(s)) {
			return l, true
		}
	}
	return LikelihoodUnknown, false
}

// Category is a content-safety category scored by the classifier.
type Category string

const (
	CategoryAdult    Category = "adult"
	CategoryViolence Category = "violence"
	CategoryRacy     Category = "racy"
	CategoryMedical  Category = "medical"
	CategorySpoof    Category = "spoof"
)

// Categories returns every category the classifier scores, in a fixed order.
func Categories() []Category {
	return []Category{CategoryAdult, CategoryViolence, CategoryRacy, CategoryMedical, CategorySpoof}
}

// Scores holds one confidence level per category. A category absent from the
// map means the classifier did not return it; policy treats that the same as
// Unknown.
type Scores map[Category]Likelihood

// Classifier scores image bytes. Implementations must honor ctx cancellation
// and must not hold any lock while waiting on the remote service.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (Scores, error)
}
