// Package chain holds the continuation state that decides which work item,
// if any, follows a completed one. Mappers are a closed tagged union: the
// deflate/inflate contract needs an explicitly versioned set of shapes, so
// new behaviors are added by extending the variant tags, never by open-ended
// runtime dispatch.
package chain

import (
	"github.com/microtask/dispatch/internal/work"
)

// Successor describes the next work item a mapper asks for. Next carries the
// mapper instance the successor item will consume on completion; nil means
// the successor terminates the chain.
type Successor struct {
	Type             work.Type
	ProhibitedWorker string
	Next             Mapper
}

// Mapper decides the continuation after a work item completes. A nil
// Successor ends the chain and moves the task toward SOLVED.
type Mapper interface {
	ProduceNext(completed *work.Work, outcome work.Outcome) *Successor
}

// ReviewMapper is the terminal variant: the item carrying it is the last of
// its chain whatever the outcome.
type ReviewMapper struct{}

func (ReviewMapper) ProduceNext(*work.Work, work.Outcome) *Successor {
	return nil
}

// ModificationCountMapper bounds the number of rework rounds. A solved
// authoring item is followed by a REVIEW item barred to its author; reviewer
// feedback spends one round and reissues the original work type. When the
// counter reaches zero the chain ends regardless of the outcome.
type ModificationCountMapper struct {
	OriginalWorkType work.Type `json:"original_work_type"`
	Remaining        int       `json:"remaining_modifications_count"`
}

func (m ModificationCountMapper) ProduceNext(completed *work.Work, outcome work.Outcome) *Successor {
	switch outcome {
	case work.OutcomeSolved:
		if completed.Type == work.TypeReview {
			// Reviewer approved; nothing left to do.
			return nil
		}
		return &Successor{
			Type:             work.TypeReview,
			ProhibitedWorker: completed.ReservedWorker,
			Next:             m,
		}
	case work.OutcomeFeedback:
		if m.Remaining <= 0 {
			return nil
		}
		return &Successor{
			Type: m.OriginalWorkType,
			Next: ModificationCountMapper{
				OriginalWorkType: m.OriginalWorkType,
				Remaining:        m.Remaining - 1,
			},
		}
	default:
		return nil
	}
}
