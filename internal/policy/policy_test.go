package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/classifier"
)

func cleanScores() classifier.Scores {
	return classifier.Scores{
		classifier.CategoryAdult:    classifier.LikelihoodVeryUnlikely,
		classifier.CategoryViolence: classifier.LikelihoodVeryUnlikely,
		classifier.CategoryRacy:     classifier.LikelihoodVeryUnlikely,
		classifier.CategoryMedical:  classifier.LikelihoodVeryUnlikely,
		classifier.CategorySpoof:    classifier.LikelihoodVeryUnlikely,
	}
}

func TestDecide(t *testing.T) {
	p := Default()

	tests := []struct {
		name     string
		mutate   func(classifier.Scores)
		outcome  Outcome
		category classifier.Category
	}{
		{
			name:    "all very unlikely allows",
			mutate:  func(classifier.Scores) {},
			outcome: OutcomeAllow,
		},
		{
			name: "adult very likely blocks",
			mutate: func(s classifier.Scores) {
				s[classifier.CategoryAdult] = classifier.LikelihoodVeryLikely
			},
			outcome:  OutcomeBlock,
			category: classifier.CategoryAdult,
		},
		{
			name: "adult exactly at threshold blocks",
			mutate: func(s classifier.Scores) {
				s[classifier.CategoryAdult] = classifier.LikelihoodLikely
			},
			outcome:  OutcomeBlock,
			category: classifier.CategoryAdult,
		},
		{
			name: "adult just below threshold allows",
			mutate: func(s classifier.Scores) {
				s[classifier.CategoryAdult] = classifier.LikelihoodPossible
			},
			outcome: OutcomeAllow,
		},
		{
			name: "racy likely blocks",
			mutate: func(s classifier.Scores) {
				s[classifier.CategoryRacy] = classifier.LikelihoodLikely
			},
			outcome:  OutcomeBlock,
			category: classifier.CategoryRacy,
		},
		{
			name: "violence is informational only",
			mutate: func(s classifier.Scores) {
				s[classifier.CategoryViolence] = classifier.LikelihoodVeryLikely
			},
			outcome: OutcomeAllow,
		},
		{
			name: "unknown level blocks",
			mutate: func(s classifier.Scores) {
				s[classifier.CategoryAdult] = classifier.LikelihoodUnknown
			},
			outcome:  OutcomeBlock,
			category: classifier.CategoryAdult,
		},
		{
			name: "missing blocking category blocks",
			mutate: func(s classifier.Scores) {
				delete(s, classifier.CategoryRacy)
			},
			outcome:  OutcomeBlock,
			category: classifier.CategoryRacy,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scores := cleanScores()
			tc.mutate(scores)

			verdict := p.Decide(scores)
			assert.Equal(t, tc.outcome, verdict.Outcome)
			if tc.outcome == OutcomeBlock {
				assert.Equal(t, tc.category, verdict.Category)
				assert.NotEmpty(t, verdict.Reason)
			} else {
				assert.Empty(t, verdict.Reason)
			}
		})
	}
}

func TestDecide_ReasonNamesCategoryAndLevel(t *testing.T) {
	scores := cleanScores()
	scores[classifier.CategoryAdult] = classifier.LikelihoodVeryLikely

	verdict := Default().Decide(scores)
	require.Equal(t, OutcomeBlock, verdict.Outcome)
	assert.Contains(t, verdict.Reason, "adult")
	assert.Contains(t, verdict.Reason, "VERY_LIKELY")
	assert.Equal(t, classifier.LikelihoodVeryLikely, verdict.Level)
}

func TestDecide_Pure(t *testing.T) {
	scores := cleanScores()
	scores[classifier.CategoryRacy] = classifier.LikelihoodVeryLikely

	p := Default()
	first := p.Decide(scores)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, p.Decide(scores))
	}
}

func TestDecide_ConfigurableThreshold(t *testing.T) {
	strict := Policy{
		Threshold: classifier.LikelihoodPossible,
		Blocking:  DefaultBlockingCategories(),
	}

	scores := cleanScores()
	scores[classifier.CategoryAdult] = classifier.LikelihoodPossible

	assert.Equal(t, OutcomeBlock, strict.Decide(scores).Outcome)
	assert.Equal(t, OutcomeAllow, Default().Decide(scores).Outcome)
}
