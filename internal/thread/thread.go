// Package thread defines the user-facing unit of scheduling: a named,
// timezone-aware thread holding an ordered list of retrieval blocks.
package thread

import (
	"errors"
	"fmt"
	"time"

	"github.com/newsieai/newsie/internal/schedule"
)

// ErrInvalidThread is returned when a thread fails validation.
var ErrInvalidThread = errors.New("thread: invalid thread")

// Kind identifies the content source a block retrieves from.
type Kind string

// Block kinds.
const (
	KindUserTimeline  Kind = "user-timeline"
	KindTopicSearch   Kind = "topic-search"
	KindGeneralSearch Kind = "general-search"
)

// Mode selects the retrieval path for a block.
type Mode string

// Block modes. Direct invokes the source adapter with the raw tags;
// strategy-assisted hands the block to an agent-mediated capability that
// may issue multiple underlying retrievals.
const (
	ModeDirect   Mode = "direct"
	ModeStrategy Mode = "strategy-assisted"
)

// Method is a closed per-kind hint tuning how many and which items a
// retrieval returns. Unsupported kind/method combinations are rejected
// at validation time, never at execution time.
type Method string

// Method hints.
const (
	MethodNewest    Method = "newest"
	MethodSummary   Method = "summary"
	MethodSelective Method = "selective"
	MethodNatural   Method = "natural"
)

// methodsByKind is the closed set of allowed hints per kind.
var methodsByKind = map[Kind][]Method{
	KindUserTimeline:  {MethodNewest, MethodSummary, MethodSelective},
	KindTopicSearch:   {MethodNewest, MethodSelective, MethodNatural},
	KindGeneralSearch: {MethodSummary, MethodSelective, MethodNatural},
}

// defaultMethod is applied when a block leaves the hint empty.
var defaultMethod = map[Kind]Method{
	KindUserTimeline:  MethodNewest,
	KindTopicSearch:   MethodSelective,
	KindGeneralSearch: MethodSelective,
}

// Block is one ordered retrieval directive within a thread. Blocks are
// immutable once an execution run has taken its snapshot.
type Block struct {
	Kind   Kind     `json:"kind" yaml:"kind"`
	Mode   Mode     `json:"mode" yaml:"mode"`
	Tags   []string `json:"tags" yaml:"tags"`
	Method Method   `json:"method,omitempty" yaml:"method,omitempty"`
}

// validate checks a single block; idx is only used in error messages.
func (b Block) validate(idx int) []error {
	var errs []error

	if _, ok := methodsByKind[b.Kind]; !ok {
		errs = append(errs, fmt.Errorf("%w: block %d: unknown kind %q", ErrInvalidThread, idx, b.Kind))
		return errs
	}

	switch b.Mode {
	case ModeDirect, ModeStrategy:
	default:
		errs = append(errs, fmt.Errorf("%w: block %d: unknown mode %q", ErrInvalidThread, idx, b.Mode))
	}

	if b.Mode == ModeDirect && len(b.Tags) == 0 {
		errs = append(errs, fmt.Errorf("%w: block %d: direct retrieval requires at least one tag", ErrInvalidThread, idx))
	}
	for _, tag := range b.Tags {
		if tag == "" {
			errs = append(errs, fmt.Errorf("%w: block %d: empty tag", ErrInvalidThread, idx))
			break
		}
	}

	if b.Method != "" && !methodAllowed(b.Kind, b.Method) {
		errs = append(errs, fmt.Errorf("%w: block %d: method %q not supported for kind %q",
			ErrInvalidThread, idx, b.Method, b.Kind))
	}

	return errs
}

func methodAllowed(k Kind, m Method) bool {
	for _, allowed := range methodsByKind[k] {
		if m == allowed {
			return true
		}
	}
	return false
}

// EffectiveMethod returns the block's hint, falling back to the kind's
// default when unset.
func (b Block) EffectiveMethod() Method {
	if b.Method != "" {
		return b.Method
	}
	return defaultMethod[b.Kind]
}

// Thread is a schedulable unit: identity, timezone, trigger schedule,
// and an ordered list of blocks. Running mirrors the job store: true iff
// exactly one armed job exists for this thread.
type Thread struct {
	ID       string            `json:"id" yaml:"id"`
	OwnerID  string            `json:"owner_id" yaml:"owner_id"`
	Name     string            `json:"name" yaml:"name"`
	Timezone string            `json:"timezone" yaml:"timezone"`
	Schedule schedule.Schedule `json:"schedule" yaml:"schedule"`
	Blocks   []Block           `json:"blocks" yaml:"blocks"`
	Running  bool              `json:"running" yaml:"running"`
}

// Validate checks the thread and all its blocks, joining every defect.
func (t *Thread) Validate() error {
	var errs []error

	if t.ID == "" {
		errs = append(errs, fmt.Errorf("%w: id is required", ErrInvalidThread))
	}
	if t.OwnerID == "" {
		errs = append(errs, fmt.Errorf("%w: owner_id is required", ErrInvalidThread))
	}
	if t.Name == "" {
		errs = append(errs, fmt.Errorf("%w: name is required", ErrInvalidThread))
	}
	if _, err := t.Location(); err != nil {
		errs = append(errs, fmt.Errorf("%w: timezone %q: %v", ErrInvalidThread, t.Timezone, err))
	}
	if err := t.Schedule.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(t.Blocks) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one block is required", ErrInvalidThread))
	}
	for i, b := range t.Blocks {
		errs = append(errs, b.validate(i)...)
	}

	return errors.Join(errs...)
}

// Location resolves the thread's timezone. Empty means UTC.
func (t *Thread) Location() (*time.Location, error) {
	if t.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(t.Timezone)
}

// Snapshot returns a deep copy of the blocks for an execution run.
// Edits to the thread after a run has started never reach the copy.
func (t *Thread) Snapshot() []Block {
	blocks := make([]Block, len(t.Blocks))
	for i, b := range t.Blocks {
		blocks[i] = b
		blocks[i].Tags = append([]string(nil), b.Tags...)
	}
	return blocks
}
