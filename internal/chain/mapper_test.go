package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microtask/dispatch/internal/work"
)

func TestReviewMapperNeverContinues(t *testing.T) {
	m := ReviewMapper{}
	for _, outcome := range []work.Outcome{work.OutcomeSolved, work.OutcomeFeedback, work.OutcomeCancelled} {
		assert.Nil(t, m.ProduceNext(&work.Work{Type: work.TypeReviewTask}, outcome))
	}
}

func TestModificationCountSolvedProducesReview(t *testing.T) {
	m := ModificationCountMapper{OriginalWorkType: work.TypeCreateFunction, Remaining: 2}
	completed := &work.Work{
		Type:           work.TypeCreateFunction,
		ReservedWorker: "worker-a",
	}

	succ := m.ProduceNext(completed, work.OutcomeSolved)
	require.NotNil(t, succ)
	assert.Equal(t, work.TypeReview, succ.Type)
	assert.Equal(t, "worker-a", succ.ProhibitedWorker)
	// The review item carries the same mapper so feedback can spend a round.
	assert.Equal(t, m, succ.Next)
}

func TestModificationCountSolvedReviewEndsChain(t *testing.T) {
	m := ModificationCountMapper{OriginalWorkType: work.TypeCreateFunction, Remaining: 2}
	assert.Nil(t, m.ProduceNext(&work.Work{Type: work.TypeReview}, work.OutcomeSolved))
}

func TestModificationCountFeedbackSpendsRound(t *testing.T) {
	m := ModificationCountMapper{OriginalWorkType: work.TypeCreateFunction, Remaining: 2}

	succ := m.ProduceNext(&work.Work{Type: work.TypeReview}, work.OutcomeFeedback)
	require.NotNil(t, succ)
	assert.Equal(t, work.TypeCreateFunction, succ.Type)
	assert.Empty(t, succ.ProhibitedWorker)
	require.IsType(t, ModificationCountMapper{}, succ.Next)
	assert.Equal(t, 1, succ.Next.(ModificationCountMapper).Remaining)
}

func TestModificationCountExhaustedEndsChain(t *testing.T) {
	m := ModificationCountMapper{OriginalWorkType: work.TypeCreateFunction, Remaining: 0}
	assert.Nil(t, m.ProduceNext(&work.Work{Type: work.TypeReview}, work.OutcomeFeedback))
}
