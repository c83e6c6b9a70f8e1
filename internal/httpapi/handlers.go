package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/microtask/dispatch/internal/dispatch"
	"github.com/microtask/dispatch/internal/pushsubscription"
	"github.com/microtask/dispatch/internal/task"
	"github.com/microtask/dispatch/internal/work"
	"github.com/microtask/dispatch/pkg/cerr"
)

type taskJSON struct {
	ID                 string    `json:"id"`
	DelegatorID        string    `json:"delegator_id"`
	Type               string    `json:"type"`
	Status             string    `json:"status"`
	Priority           int       `json:"priority"`
	Description        string    `json:"description"`
	Code               string    `json:"code,omitempty"`
	ClassParams        string    `json:"class_params,omitempty"`
	AvailableNames     []string  `json:"available_names,omitempty"`
	InvalidCode        string    `json:"invalid_code,omitempty"`
	InvalidDescription string    `json:"invalid_description,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toTaskJSON(t *task.Task) *taskJSON {
	return &taskJSON{
		ID:                 t.ID,
		DelegatorID:        t.DelegatorID,
		Type:               string(t.Type),
		Status:             string(t.Status),
		Priority:           t.Priority,
		Description:        t.Description,
		Code:               t.Code,
		ClassParams:        t.ClassParams,
		AvailableNames:     t.AvailableNames,
		InvalidCode:        t.InvalidCode,
		InvalidDescription: t.InvalidDescription,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

type workJSON struct {
	ID               int64      `json:"id"`
	TaskID           string     `json:"task_id"`
	Type             string     `json:"type"`
	Status           string     `json:"status"`
	Description      string     `json:"description"`
	InputCode        string     `json:"input_code,omitempty"`
	InputContext     string     `json:"input_context,omitempty"`
	Priority         int        `json:"priority"`
	ReservedWorker   string     `json:"reserved_worker,omitempty"`
	ReservedUntil    *time.Time `json:"reserved_until,omitempty"`
	ProhibitedWorker string     `json:"prohibited_worker,omitempty"`
	Outcome          string     `json:"outcome,omitempty"`
	Result           string     `json:"result,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toWorkJSON(w *work.Work) *workJSON {
	return &workJSON{
		ID:               w.ID,
		TaskID:           w.TaskID,
		Type:             string(w.Type),
		Status:           string(w.Status),
		Description:      w.Description,
		InputCode:        w.Input.Code,
		InputContext:     w.Input.Context,
		Priority:         w.Priority,
		ReservedWorker:   w.ReservedWorker,
		ReservedUntil:    w.ReservedUntil,
		ProhibitedWorker: w.ProhibitedWorker,
		Outcome:          string(w.Outcome),
		Result:           w.Result,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
}

// Handler serves the JSON API. Each handler buffers its result through the
// cerr chi middleware, which owns status mapping and the response body.
type Handler struct {
	service   *dispatch.Service
	scheduler *dispatch.Scheduler
	processor *dispatch.Processor
	pushSubs  pushsubscription.Repository
}

func NewHandler(service *dispatch.Service, scheduler *dispatch.Scheduler, processor *dispatch.Processor, pushSubs pushsubscription.Repository) *Handler {
	return &Handler{
		service:   service,
		scheduler: scheduler,
		processor: processor,
		pushSubs:  pushSubs,
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cerr.NewError(cerr.InvalidArgument, "invalid request body", err)
	}
	return nil
}

func workIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "workID"), 10, 64)
	if err != nil {
		return 0, cerr.NewError(cerr.InvalidArgument, "invalid work id", err)
	}
	return id, nil
}

type createTaskRequest struct {
	DelegatorID      string   `json:"delegator_id"`
	Type             string   `json:"type"`
	Priority         int      `json:"priority"`
	Description      string   `json:"description"`
	Code             string   `json:"code,omitempty"`
	ClassParams      string   `json:"class_params,omitempty"`
	AvailableNames   []string `json:"available_names,omitempty"`
	MaxModifications *int     `json:"max_modifications,omitempty"`
	Environment      string   `json:"environment,omitempty"`
	Activate         bool     `json:"activate,omitempty"`
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createTaskRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := h.service.CreateTask(ctx, dispatch.CreateTaskParams{
		DelegatorID:    req.DelegatorID,
		Type:           task.Type(req.Type),
		Priority:       req.Priority,
		Description:    req.Description,
		Code:           req.Code,
		ClassParams:    req.ClassParams,
		AvailableNames: req.AvailableNames,
		AdvancedOptions: task.AdvancedOptions{
			MaxModifications: req.MaxModifications,
			Environment:      req.Environment,
		},
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Activate {
		if t, err = h.service.ActivateTask(ctx, t.ID); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
	}
	cerr.SetJSONResponse(ctx, toTaskJSON(t))
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.service.GetTask(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toTaskJSON(t))
}

type listTasksResponse struct {
	Tasks []*taskJSON `json:"tasks"`
	Total int         `json:"total"`
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	tasks, total, err := h.service.ListTasks(ctx, q.Get("delegator_id"), task.Status(q.Get("status")), limit, offset)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	resp := &listTasksResponse{Tasks: make([]*taskJSON, 0, len(tasks)), Total: total}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskJSON(t))
	}
	cerr.SetJSONResponse(ctx, resp)
}

func (h *Handler) ListTaskWork(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items, err := h.service.ListWork(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	resp := make([]*workJSON, 0, len(items))
	for _, item := range items {
		resp = append(resp, toWorkJSON(item))
	}
	cerr.SetJSONResponse(ctx, resp)
}

// taskAction adapts the one-argument lifecycle calls to a common handler.
func (h *Handler) taskAction(fn func(r *http.Request, taskID string) (*task.Task, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		t, err := fn(r, chi.URLParam(r, "taskID"))
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		cerr.SetJSONResponse(ctx, toTaskJSON(t))
	}
}

func (h *Handler) ActivateTask() http.HandlerFunc {
	return h.taskAction(func(r *http.Request, taskID string) (*task.Task, error) {
		return h.service.ActivateTask(r.Context(), taskID)
	})
}

func (h *Handler) StartTask() http.HandlerFunc {
	return h.taskAction(func(r *http.Request, taskID string) (*task.Task, error) {
		return h.service.StartTask(r.Context(), taskID)
	})
}

func (h *Handler) PauseTask() http.HandlerFunc {
	return h.taskAction(func(r *http.Request, taskID string) (*task.Task, error) {
		return h.service.PauseTask(r.Context(), taskID)
	})
}

func (h *Handler) ResumeTask() http.HandlerFunc {
	return h.taskAction(func(r *http.Request, taskID string) (*task.Task, error) {
		return h.service.ResumeTask(r.Context(), taskID)
	})
}

func (h *Handler) AcceptTask() http.HandlerFunc {
	return h.taskAction(func(r *http.Request, taskID string) (*task.Task, error) {
		return h.service.AcceptTask(r.Context(), taskID)
	})
}

func (h *Handler) RequestModifications() http.HandlerFunc {
	return h.taskAction(func(r *http.Request, taskID string) (*task.Task, error) {
		return h.service.RequestModifications(r.Context(), taskID)
	})
}

func (h *Handler) CancelTask() http.HandlerFunc {
	return h.taskAction(func(r *http.Request, taskID string) (*task.Task, error) {
		return h.service.CancelTask(r.Context(), taskID)
	})
}

type invalidateTaskRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (h *Handler) InvalidateTask() http.HandlerFunc {
	return h.taskAction(func(r *http.Request, taskID string) (*task.Task, error) {
		var req invalidateTaskRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		return h.service.InvalidateTask(r.Context(), taskID, req.Code, req.Description)
	})
}

type supplyDescriptionRequest struct {
	Description string `json:"description"`
}

func (h *Handler) SupplyInvalidDescription() http.HandlerFunc {
	return h.taskAction(func(r *http.Request, taskID string) (*task.Task, error) {
		var req supplyDescriptionRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		return h.service.SupplyInvalidDescription(r.Context(), taskID, req.Description)
	})
}

type supplyClassParamsRequest struct {
	ClassParams string `json:"class_params"`
}

func (h *Handler) SupplyClassParams() http.HandlerFunc {
	return h.taskAction(func(r *http.Request, taskID string) (*task.Task, error) {
		var req supplyClassParamsRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		return h.service.SupplyClassParams(r.Context(), taskID, req.ClassParams)
	})
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

type claimResponse struct {
	Work *workJSON `json:"work"`
}

func (h *Handler) ClaimWork(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	item, err := h.scheduler.Claim(ctx, req.WorkerID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	resp := &claimResponse{}
	if item != nil {
		resp.Work = toWorkJSON(item)
	}
	cerr.SetJSONResponse(ctx, resp)
}

type outcomeRequest struct {
	WorkerID string `json:"worker_id"`
	Outcome  string `json:"outcome"`
	Result   string `json:"result,omitempty"`
}

func (h *Handler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := workIDParam(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req outcomeRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if err := h.processor.ReportOutcome(ctx, id, req.WorkerID, work.Outcome(req.Outcome), req.Result); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

type releaseRequest struct {
	WorkerID string `json:"worker_id"`
}

func (h *Handler) ReleaseWork(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := workIDParam(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req releaseRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if err := h.scheduler.Release(ctx, id, req.WorkerID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

type priorityRequest struct {
	Priority int `json:"priority"`
}

func (h *Handler) OverrideWorkPriority(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := workIDParam(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req priorityRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	item, err := h.service.OverrideWorkPriority(ctx, id, req.Priority)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toWorkJSON(item))
}

type subscribeRequest struct {
	DelegatorID string `json:"delegator_id"`
	Endpoint    string `json:"endpoint"`
	P256dhKey   string `json:"p256dh_key"`
	AuthKey     string `json:"auth_key"`
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req subscribeRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.DelegatorID == "" || req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "delegator_id and endpoint are required", nil)
		return
	}
	sub := &pushsubscription.Subscription{
		ID:          ulid.Make().String(),
		DelegatorID: req.DelegatorID,
		Endpoint:    req.Endpoint,
		P256dhKey:   req.P256dhKey,
		AuthKey:     req.AuthKey,
		CreatedAt:   time.Now(),
	}
	if err := h.pushSubs.Create(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct {
		ID string `json:"id"`
	}{ID: sub.ID})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req unsubscribeRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if err := h.pushSubs.DeleteByEndpoint(ctx, req.Endpoint); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}
