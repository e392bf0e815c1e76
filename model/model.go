package model

import (
	"fmt"
	"time"
)

// ActivityKind identifies the transition rule used to execute an activity.
type ActivityKind string

const (
	KindStartEvent             ActivityKind = "startEvent"
	KindEndEvent               ActivityKind = "endEvent"
	KindUserTask               ActivityKind = "userTask"
	KindServiceTask            ActivityKind = "serviceTask"
	KindScriptTask             ActivityKind = "scriptTask"
	KindExclusiveGateway       ActivityKind = "exclusiveGateway"
	KindParallelGateway        ActivityKind = "parallelGateway"
	KindIntermediateCatchEvent ActivityKind = "intermediateCatchEvent"
	KindIntermediateThrowEvent ActivityKind = "intermediateThrowEvent"
	KindSubProcess             ActivityKind = "subProcess"
	KindCallActivity           ActivityKind = "callActivity"
)

// RetryPolicy controls how activity execution errors are retried. The delay
// before attempt n is InitialInterval * BackoffMultiplier^(n-1).
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialInterval   time.Duration `json:"initial_interval"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// NextDelay returns the delay before the retry following the given number of
// already-performed retries.
func (p *RetryPolicy) NextDelay(retryCount int) time.Duration {
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	delay := float64(p.InitialInterval)
	for i := 0; i < retryCount; i++ {
		delay *= multiplier
	}

	return time.Duration(delay)
}

// TimerDefinition describes a timer attached to an intermediate catch event.
// Exactly one of FireAt, DurationExpr, or CycleExpr is expected to be set.
type TimerDefinition struct {
	FireAt       *time.Time `json:"fire_at,omitempty"`
	DurationExpr string     `json:"duration_expr,omitempty"`
	CycleExpr    string     `json:"cycle_expr,omitempty"`
}

// Activity is one node in a process model. It is a tagged variant: Kind
// selects the transition rule and which of the kind-specific fields apply.
type Activity struct {
	ID   string       `json:"id"`
	Kind ActivityKind `json:"kind"`
	Name string       `json:"name,omitempty"`

	Retry *RetryPolicy `json:"retry,omitempty"`

	// EndEvent
	Terminating bool `json:"terminating,omitempty"`

	// UserTask
	Assignee       string `json:"assignee,omitempty"`
	CandidateGroup string `json:"candidate_group,omitempty"`
	FormKey        string `json:"form_key,omitempty"`
	DueDateExpr    string `json:"due_date_expr,omitempty"`
	Description    string `json:"description,omitempty"`

	// ServiceTask
	Service string `json:"service,omitempty"`
	Async   bool   `json:"async,omitempty"`

	// ScriptTask
	Script         string `json:"script,omitempty"`
	ResultVariable string `json:"result_variable,omitempty"`

	// IntermediateCatchEvent / IntermediateThrowEvent
	Signal string           `json:"signal,omitempty"`
	Timer  *TimerDefinition `json:"timer,omitempty"`

	// SubProcess
	Embedded *ProcessModel `json:"embedded,omitempty"`

	// CallActivity
	CalledProcessKey string            `json:"called_process_key,omitempty"`
	InputMappings    map[string]string `json:"input_mappings,omitempty"`
	OutputMappings   map[string]string `json:"output_mappings,omitempty"`
}

// SequenceFlow is a directed edge between two activities, optionally guarded
// by a condition expression.
type SequenceFlow struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
	Default   bool   `json:"default,omitempty"`
}

// ProcessModel is the declarative activity graph for one process version.
type ProcessModel struct {
	Activities map[string]*Activity `json:"activities"`
	Flows      []SequenceFlow       `json:"flows"`
}

// Activity returns the activity with the given id, searching the root graph
// and any embedded sub-process graphs.
func (m *ProcessModel) Activity(id string) (*Activity, *Scope) {
	return m.resolve(id, &Scope{Model: m})
}

func (m *ProcessModel) resolve(id string, scope *Scope) (*Activity, *Scope) {
	if a, ok := m.Activities[id]; ok {
		return a, scope
	}

	for _, a := range m.Activities {
		if a.Kind == KindSubProcess && a.Embedded != nil {
			if found, s := a.Embedded.resolve(id, &Scope{Model: a.Embedded, Parent: scope, SubProcessID: a.ID}); found != nil {
				return found, s
			}
		}
	}

	return nil, nil
}

// Outgoing returns the flows leaving the given activity in declaration order.
func (m *ProcessModel) Outgoing(activityID string) []SequenceFlow {
	var flows []SequenceFlow
	for _, f := range m.Flows {
		if f.Source == activityID {
			flows = append(flows, f)
		}
	}

	return flows
}

// Incoming returns the flows arriving at the given activity.
func (m *ProcessModel) Incoming(activityID string) []SequenceFlow {
	var flows []SequenceFlow
	for _, f := range m.Flows {
		if f.Target == activityID {
			flows = append(flows, f)
		}
	}

	return flows
}

// StartEvent returns the single start event of this model. It returns an
// error if the model has none or more than one.
func (m *ProcessModel) StartEvent() (*Activity, error) {
	var start *Activity
	for _, a := range m.Activities {
		if a.Kind == KindStartEvent {
			if start != nil {
				return nil, fmt.Errorf("model has more than one start event")
			}

			start = a
		}
	}

	if start == nil {
		return nil, fmt.Errorf("model has no start event")
	}

	return start, nil
}

// Scope identifies the graph an activity belongs to: the root model or an
// embedded sub-process, with a chain back to the root.
type Scope struct {
	Model        *ProcessModel
	Parent       *Scope
	SubProcessID string
}

// Root returns true if this scope is the root model graph.
func (s *Scope) Root() bool {
	return s.Parent == nil
}
