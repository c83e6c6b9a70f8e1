package task

import "time"

// Type enumerates the kinds of delegated work a task can describe.
type Type string

const (
	TypeCreateFunction       Type = "CREATE_FUNCTION"
	TypeUpdateFunction       Type = "UPDATE_FUNCTION"
	TypeDescribeFunction     Type = "DESCRIBE_FUNCTION"
	TypeReviewTask           Type = "REVIEW_TASK"
	TypeOpenTask             Type = "OPEN_TASK"
	TypeCreateReactComponent Type = "CREATE_REACT_COMPONENT"
	TypeUpdateReactComponent Type = "UPDATE_REACT_COMPONENT"
	TypeCheckReusability     Type = "CHECK_REUSABILITY"
)

var knownTypes = map[Type]struct{}{
	TypeCreateFunction:       {},
	TypeUpdateFunction:       {},
	TypeDescribeFunction:     {},
	TypeReviewTask:           {},
	TypeOpenTask:             {},
	TypeCreateReactComponent: {},
	TypeUpdateReactComponent: {},
	TypeCheckReusability:     {},
}

func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// SingleShot reports whether tasks of this type are satisfied by one work
// item with no rework rounds (the worker's judgement is the deliverable).
func (t Type) SingleShot() bool {
	switch t {
	case TypeReviewTask, TypeDescribeFunction, TypeCheckReusability:
		return true
	default:
		return false
	}
}

// AdvancedOptions are delegator-supplied knobs. They are opaque to the
// scheduler; the generator reads MaxModifications when seeding a chain.
type AdvancedOptions struct {
	MaxModifications *int   `yaml:"max_modifications,omitempty"`
	Environment      string `yaml:"environment,omitempty"`
}

type Task struct {
	ID              string          `yaml:"id"`
	DelegatorID     string          `yaml:"delegator_id"`
	Type            Type            `yaml:"type"`
	Status          Status          `yaml:"status"`
	Priority        int             `yaml:"priority"`
	Description     string          `yaml:"description"`
	Code            string          `yaml:"code,omitempty"`
	ClassParams     string          `yaml:"class_params,omitempty"`
	AvailableNames  []string        `yaml:"available_names,omitempty"`
	AdvancedOptions AdvancedOptions `yaml:"advanced_options,omitempty"`
	// InvalidCode and InvalidDescription are set when the task is marked
	// INVALID. Supplying a description later is the only path back out.
	InvalidCode        string    `yaml:"invalid_code,omitempty"`
	InvalidDescription string    `yaml:"invalid_description,omitempty"`
	CreatedAt          time.Time `yaml:"created_at"`
	UpdatedAt          time.Time `yaml:"updated_at"`
}
