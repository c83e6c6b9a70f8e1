package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/microtask/dispatch/internal/eventbus"
	"github.com/microtask/dispatch/internal/task"
)

// notifiedStatuses are the transitions a delegator wants to hear about:
// their task needs attention or reached a milestone.
var notifiedStatuses = map[task.Status]string{
	task.StatusSolved:                 "Task Solved",
	task.StatusAccepted:               "Task Accepted",
	task.StatusInvalid:                "Task Marked Invalid",
	task.StatusModificationsRequested: "Modifications Requested",
}

// Dispatcher watches the event bus and turns user-visible task transitions
// into web push notifications for the owning delegator.
type Dispatcher struct {
	eventBus *eventbus.Bus
	taskRepo task.Repository
	sender   *Sender
}

func NewDispatcher(eventBus *eventbus.Bus, taskRepo task.Repository, sender *Sender) *Dispatcher {
	return &Dispatcher{
		eventBus: eventBus,
		taskRepo: taskRepo,
		sender:   sender,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Type == eventbus.EventTypeTaskStatusChanged {
				d.handleStatusChanged(ctx, event)
			}
		}
	}
}

func (d *Dispatcher) handleStatusChanged(ctx context.Context, event *eventbus.Event) {
	title, ok := notifiedStatuses[task.Status(event.Metadata["new_status"])]
	if !ok {
		return
	}

	t, err := d.taskRepo.Get(ctx, event.ResourceID)
	if err != nil {
		slog.Error("push dispatcher: failed to get task", "id", event.ResourceID, "error", err)
		return
	}

	d.sender.SendToDelegator(ctx, t.DelegatorID, &Payload{
		Title: title,
		Body:  t.Description,
		URL:   fmt.Sprintf("/tasks/%s", t.ID),
		Tag:   event.ID,
	})
}
