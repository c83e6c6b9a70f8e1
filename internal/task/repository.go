package task

import "context"

type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// List filters by delegator and/or status; empty strings match all.
	// Tasks are never deleted, only driven to a terminal status.
	List(ctx context.Context, delegatorID string, status Status, limit, offset int) ([]*Task, int, error)
	Update(ctx context.Context, t *Task) error
}
