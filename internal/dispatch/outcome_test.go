package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microtask/dispatch/internal/chain"
	"github.com/microtask/dispatch/internal/task"
	"github.com/microtask/dispatch/internal/work"
	"github.com/microtask/dispatch/pkg/cerr"
)

func (f *fixture) newActiveTask(t *testing.T, typ task.Type, priority int) *task.Task {
	t.Helper()
	ctx := context.Background()
	tk, err := f.service.CreateTask(ctx, CreateTaskParams{
		DelegatorID: "delegator-1",
		Type:        typ,
		Priority:    priority,
		Description: "Parse ISO dates with timezone offsets",
		Code:        "func parseDate(s string) {}",
		ClassParams: "DateUtils{locale string}",
	})
	require.NoError(t, err)
	tk, err = f.service.ActivateTask(ctx, tk.ID)
	require.NoError(t, err)
	return tk
}

func (f *fixture) latestWork(t *testing.T, taskID string) *work.Work {
	t.Helper()
	items, err := f.works.ListByTask(context.Background(), taskID)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	latest := items[0]
	for _, w := range items {
		if w.ID > latest.ID {
			latest = w
		}
	}
	return latest
}

func (f *fixture) taskStatus(t *testing.T, taskID string) task.Status {
	t.Helper()
	tk, err := f.tasks.Get(context.Background(), taskID)
	require.NoError(t, err)
	return tk.Status
}

func TestReportOutcomeUnknownOutcome(t *testing.T) {
	f := newFixture(t)
	err := f.processor.ReportOutcome(context.Background(), 1, "worker-a", "SHRUGGED", "")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestReportOutcomeRequiresHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	err = f.processor.ReportOutcome(ctx, claimed.ID, "worker-b", work.OutcomeSolved, "code")
	require.ErrorIs(t, err, ErrNotReserved)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	// Nothing moved.
	assert.Equal(t, task.StatusInProcess, f.taskStatus(t, tk.ID))
	got, err := f.works.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, work.StatusAvailable, got.Status)
	assert.Equal(t, "worker-a", got.ReservedWorker)
}

func TestReportOutcomeExpiredLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	f.clock.Advance(f.env.LeaseDuration + time.Minute)
	err = f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeSolved, "code")
	require.ErrorIs(t, err, ErrExpired)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestReportOutcomeOnCompleteItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeSolved, "code"))

	err = f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeSolved, "code")
	require.ErrorIs(t, err, ErrNotReserved)
}

func TestSolvedAuthoringItemProducesReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeSolved, "func parseDate(s string) (time.Time, error) { ... }"))

	completed, err := f.works.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, work.StatusComplete, completed.Status)
	assert.Equal(t, work.OutcomeSolved, completed.Outcome)
	assert.Empty(t, completed.ReservedWorker)

	review := f.latestWork(t, tk.ID)
	assert.Equal(t, work.TypeReview, review.Type)
	assert.Equal(t, work.StatusAvailable, review.Status)
	assert.Equal(t, "worker-a", review.ProhibitedWorker, "the solver may not review their own work")
	assert.Equal(t, claimed.Priority, review.Priority)
	assert.Equal(t, completed.Result, review.Input.Code, "reviewer sees the submitted solution")

	// Task stays active while the review is open.
	assert.Equal(t, task.StatusInProcess, f.taskStatus(t, tk.ID))
}

func TestApprovedReviewSolvesTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeSolved, "solution"))

	review, err := f.scheduler.Claim(ctx, "worker-b")
	require.NoError(t, err)
	require.NotNil(t, review)
	require.Equal(t, work.TypeReview, review.Type)
	require.NoError(t, f.processor.ReportOutcome(ctx, review.ID, "worker-b", work.OutcomeSolved, "looks good"))

	assert.Equal(t, task.StatusSolved, f.taskStatus(t, tk.ID))
}

func TestReviewFeedbackProducesRework(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeSolved, "solution v1"))

	review, err := f.scheduler.Claim(ctx, "worker-b")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, review.ID, "worker-b", work.OutcomeFeedback, "missing error handling"))

	rework := f.latestWork(t, tk.ID)
	assert.Equal(t, work.TypeCreateFunction, rework.Type)
	assert.Equal(t, work.StatusAvailable, rework.Status)
	assert.Equal(t, "missing error handling", rework.Input.Context, "feedback travels to the author")

	m, err := chain.Decode(rework.Chain)
	require.NoError(t, err)
	require.IsType(t, chain.ModificationCountMapper{}, m)
	assert.Equal(t, f.env.DefaultModificationRounds-1, m.(chain.ModificationCountMapper).Remaining)

	assert.Equal(t, task.StatusInProcess, f.taskStatus(t, tk.ID))
}

func TestFeedbackWithExhaustedBudgetSolvesTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	zero := 0
	tk, err := f.service.CreateTask(ctx, CreateTaskParams{
		DelegatorID:     "delegator-1",
		Type:            task.TypeOpenTask,
		Priority:        10,
		Description:     "Investigate flaky sync",
		AdvancedOptions: task.AdvancedOptions{MaxModifications: &zero},
	})
	require.NoError(t, err)
	_, err = f.service.ActivateTask(ctx, tk.ID)
	require.NoError(t, err)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeSolved, "report"))

	review, err := f.scheduler.Claim(ctx, "worker-b")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, review.ID, "worker-b", work.OutcomeFeedback, "still flaky"))

	// No rounds left, so the chain ends despite the feedback.
	assert.Equal(t, task.StatusSolved, f.taskStatus(t, tk.ID))
}

func TestSingleShotTaskSolvesWithoutReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeDescribeFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeSolved, "Parses an ISO date string."))

	assert.Equal(t, task.StatusSolved, f.taskStatus(t, tk.ID))
	items, err := f.works.ListByTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSkippedReissuesProhibitingSkipper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeSkipped, ""))

	reissued := f.latestWork(t, tk.ID)
	assert.NotEqual(t, claimed.ID, reissued.ID)
	assert.Equal(t, claimed.Type, reissued.Type)
	assert.Equal(t, "worker-a", reissued.ProhibitedWorker)
	assert.Equal(t, claimed.Chain, reissued.Chain, "the chain survives a skip")

	got, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	assert.Nil(t, got, "the skipper may not reclaim the item")
}

func TestCancelledOutcomeReissuesWithoutProhibition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeCancelled, ""))

	reissued := f.latestWork(t, tk.ID)
	assert.Empty(t, reissued.ProhibitedWorker)

	got, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, reissued.ID, got.ID, "the same worker may try again")
}

func TestTaskCancelledOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeTaskCancelled, "duplicate of earlier request"))

	assert.Equal(t, task.StatusCancelled, f.taskStatus(t, tk.ID))
}

func TestRequestedPackageShortCircuit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeRequestedPackage, "date-fns"))

	pending := f.latestWork(t, tk.ID)
	assert.Equal(t, work.StatusPendingPackage, pending.Status)
	assert.Equal(t, claimed.Type, pending.Type)
	assert.Equal(t, claimed.Chain, pending.Chain, "the mapper is not consulted for a package request")
	assert.Equal(t, task.StatusPendingPackage, f.taskStatus(t, tk.ID))

	// Blocked items are not offerable.
	got, err := f.scheduler.Claim(ctx, "worker-b")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolvePackageSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeRequestedPackage, "date-fns"))
	pending := f.latestWork(t, tk.ID)

	require.NoError(t, f.processor.ResolvePackage(ctx, pending.ID, true))

	restored, err := f.works.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, work.StatusAvailable, restored.Status)
	assert.Equal(t, task.StatusInProcess, f.taskStatus(t, tk.ID))

	got, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pending.ID, got.ID)
}

func TestResolvePackageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.newActiveTask(t, task.TypeCreateFunction, 10)

	claimed, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, f.processor.ReportOutcome(ctx, claimed.ID, "worker-a", work.OutcomeRequestedPackage, "left-pad"))
	pending := f.latestWork(t, tk.ID)

	require.NoError(t, f.processor.ResolvePackage(ctx, pending.ID, false))

	parked, err := f.works.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, work.StatusUnavailable, parked.Status)
	assert.Equal(t, task.StatusPendingPackage, f.taskStatus(t, tk.ID))
}

func TestResolvePackageRequiresPendingItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.latestWork(t, f.newActiveTask(t, task.TypeOpenTask, 10).ID)

	err := f.processor.ResolvePackage(ctx, item.ID, true)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

// TestUrgentTaskEndToEnd walks the full flow: an urgent task jumps the queue,
// a losing claimant falls back to other work, the solver is barred from the
// review, and acceptance closes the task.
func TestUrgentTaskEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	background := f.newActiveTask(t, task.TypeOpenTask, 10)
	urgent := f.newActiveTask(t, task.TypeCreateFunction, 5)

	first, err := f.scheduler.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, urgent.ID, first.TaskID, "lowest priority value wins")

	second, err := f.scheduler.Claim(ctx, "worker-b")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, background.ID, second.TaskID, "the loser falls back to the rest of the pool")

	require.NoError(t, f.processor.ReportOutcome(ctx, first.ID, "worker-a", work.OutcomeSolved, "func parseDate..."))

	review, err := f.scheduler.Claim(ctx, "worker-c")
	require.NoError(t, err)
	require.NotNil(t, review)
	assert.Equal(t, work.TypeReview, review.Type)
	assert.Equal(t, urgent.ID, review.TaskID)

	require.NoError(t, f.processor.ReportOutcome(ctx, review.ID, "worker-c", work.OutcomeSolved, "approved"))
	assert.Equal(t, task.StatusSolved, f.taskStatus(t, urgent.ID))

	_, err = f.service.AcceptTask(ctx, urgent.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAccepted, f.taskStatus(t, urgent.ID))

	// A terminal task admits nothing further.
	_, err = f.service.CancelTask(ctx, urgent.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrInvalidTransition))
}
