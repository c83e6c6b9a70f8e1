package dispatch

import (
	"fmt"
	"time"

	"github.com/microtask/dispatch/internal/chain"
	"github.com/microtask/dispatch/internal/config"
	"github.com/microtask/dispatch/internal/task"
	"github.com/microtask/dispatch/internal/work"
)

// Generator builds concrete work items from task content and chain
// decisions. It never persists anything itself; callers own the repository
// write and the surrounding transition.
type Generator struct {
	env *config.DispatchEnv
}

func NewGenerator(env *config.DispatchEnv) *Generator {
	return &Generator{env: env}
}

// initialMapper seeds the chain for a task's first work item. Single-shot
// task types end after one item; authoring types get a bounded number of
// review/rework rounds.
func (g *Generator) initialMapper(t *task.Task) chain.Mapper {
	if t.Type.SingleShot() {
		return chain.ReviewMapper{}
	}
	rounds := g.env.DefaultModificationRounds
	if t.AdvancedOptions.MaxModifications != nil {
		rounds = *t.AdvancedOptions.MaxModifications
	}
	if rounds < 0 {
		rounds = 0
	}
	return chain.ModificationCountMapper{
		OriginalWorkType: work.TypeForTask(t.Type),
		Remaining:        rounds,
	}
}

// Initial produces the first work item for a task entering IN_PROCESS.
// Priority is inherited from the task at generation time; administrators may
// override it on the item later without touching the task.
func (g *Generator) Initial(t *task.Task, now time.Time) (*work.Work, error) {
	data, err := chain.Encode(g.initialMapper(t))
	if err != nil {
		return nil, err
	}
	return &work.Work{
		TaskID:      t.ID,
		Type:        work.TypeForTask(t.Type),
		Status:      work.StatusAvailable,
		Description: t.Description,
		Input: work.Input{
			Code:    t.Code,
			Context: t.ClassParams,
		},
		Priority:  t.Priority,
		Chain:     data,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Materialize turns a mapper's successor decision into a persistable work
// item. The successor's own continuation state is deflated onto the new row;
// a chain that ends with the successor carries no state at all.
func (g *Generator) Materialize(t *task.Task, completed *work.Work, succ *chain.Successor, now time.Time) (*work.Work, error) {
	var data []byte
	if succ.Next != nil {
		var err error
		data, err = chain.Encode(succ.Next)
		if err != nil {
			return nil, err
		}
	}

	w := &work.Work{
		TaskID:           t.ID,
		Type:             succ.Type,
		Status:           work.StatusAvailable,
		Priority:         completed.Priority,
		ProhibitedWorker: succ.ProhibitedWorker,
		Chain:            data,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if succ.Type == work.TypeReview {
		w.Description = fmt.Sprintf("Review the submitted solution for: %s", t.Description)
		w.Input = work.Input{
			Code:    completed.Result,
			Context: t.Description,
		}
	} else {
		w.Description = fmt.Sprintf("Revise per reviewer feedback: %s", t.Description)
		w.Input = work.Input{
			Code:    completed.Input.Code,
			Context: completed.Result,
		}
	}
	return w, nil
}

// Reissue copies a completed item back into the pool with its chain intact,
// used when a worker skips or abandons an item. prohibitedWorker may bar the
// abandoning worker from reclaiming it.
func (g *Generator) Reissue(completed *work.Work, prohibitedWorker string, now time.Time) *work.Work {
	return &work.Work{
		TaskID:           completed.TaskID,
		Type:             completed.Type,
		Status:           work.StatusAvailable,
		Description:      completed.Description,
		Input:            completed.Input,
		Priority:         completed.Priority,
		ProhibitedWorker: prohibitedWorker,
		Chain:            completed.Chain,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// PackagePending copies a completed item into a successor blocked on package
// installation. The chain is carried verbatim: package installation is
// orthogonal to the task's content continuation, so the mapper is not
// consulted.
func (g *Generator) PackagePending(completed *work.Work, now time.Time) *work.Work {
	w := g.Reissue(completed, completed.ProhibitedWorker, now)
	w.Status = work.StatusPendingPackage
	return w
}
