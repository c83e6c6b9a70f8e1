package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/microtask/dispatch/pkg/cerr"
)

// Variant tags. Persisted values; never renumber or reuse.
const (
	VariantReview            = "review"
	VariantModificationCount = "modification_count"
)

// ErrUnknownVariant is wrapped when inflating a tag this build does not
// know. The chain is unusable until the code catches up; guessing intent
// would corrupt task progress, so the error is surfaced, never swallowed.
var ErrUnknownVariant = errors.New("unknown mapper variant")

// TaggedValue is the persisted form of a mapper: the variant tag plus that
// variant's fields. It crosses process boundaries as opaque bytes attached
// to the work row that will consume it.
type TaggedValue struct {
	Variant string          `json:"variant"`
	State   json.RawMessage `json:"state,omitempty"`
}

// Deflate captures a mapper as a TaggedValue.
func Deflate(m Mapper) (TaggedValue, error) {
	switch v := m.(type) {
	case ReviewMapper:
		return TaggedValue{Variant: VariantReview}, nil
	case ModificationCountMapper:
		state, err := json.Marshal(v)
		if err != nil {
			return TaggedValue{}, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal mapper state: %w", err))
		}
		return TaggedValue{Variant: VariantModificationCount, State: state}, nil
	default:
		return TaggedValue{}, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("unregistered mapper type %T", m))
	}
}

// Inflate reconstructs a mapper from its TaggedValue such that
// Deflate(Inflate(x)) == x for every valid x.
func Inflate(tv TaggedValue) (Mapper, error) {
	switch tv.Variant {
	case VariantReview:
		return ReviewMapper{}, nil
	case VariantModificationCount:
		var m ModificationCountMapper
		if err := json.Unmarshal(tv.State, &m); err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal mapper state: %w", err))
		}
		return m, nil
	default:
		return nil, cerr.NewError(
			cerr.Internal,
			fmt.Sprintf("unknown chain variant %q", tv.Variant),
			fmt.Errorf("%w: %q", ErrUnknownVariant, tv.Variant),
		)
	}
}

// Encode deflates a mapper to the opaque bytes persisted on a work row.
func Encode(m Mapper) ([]byte, error) {
	tv, err := Deflate(m)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(tv)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal chain state: %w", err))
	}
	return data, nil
}

// Decode inflates a mapper from persisted bytes.
func Decode(data []byte) (Mapper, error) {
	var tv TaggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal chain state: %w", err))
	}
	return Inflate(tv)
}
