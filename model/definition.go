package model

import "time"

// Command action constants. These are the only actions a journey definition
// may declare; anything else is a configuration error.
const (
	ActionCreateInstance  = "CREATE_INSTANCE"
	ActionFireTrigger     = "FIRE_TRIGGER"
	ActionResolveApproval = "RESOLVE_APPROVAL"
)

// Event binding constants.
const (
	EventOnCreate     = "create"
	EventOnTransition = "transition"
)

// JourneyDefinition is a versioned, tenant-scoped description of a member
// journey state graph. Published definitions are immutable except for the
// IsActive flag; at most one version per (tenant, code) is active at a time.
type JourneyDefinition struct {
	ID           string                 `json:"id" yaml:"-"`
	TenantID     string                 `json:"tenant_id" yaml:"-"`
	Code         string                 `json:"code" yaml:"code"`
	Version      int                    `json:"version" yaml:"-"`
	Name         string                 `json:"name" yaml:"name"`
	States       []string               `json:"states" yaml:"states"`
	InitialState string                 `json:"initial_state" yaml:"initial_state"`
	Transitions  []TransitionDefinition `json:"transitions" yaml:"transitions"`
	Commands     []CommandDefinition    `json:"commands" yaml:"commands"`
	Events       []EventDefinition      `json:"events,omitempty" yaml:"events"`
	IsActive     bool                   `json:"is_active" yaml:"-"`
	CreatedAt    time.Time              `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time              `json:"updated_at" yaml:"-"`
}

// TransitionDefinition is one directed edge of the state graph.
type TransitionDefinition struct {
	FromState string `json:"from_state" yaml:"from"`
	Trigger   string `json:"trigger" yaml:"trigger"`
	ToState   string `json:"to_state" yaml:"to"`
}

// CommandDefinition maps an external command name to an engine action.
// FIRE_TRIGGER commands must declare a trigger; a non-empty Policy subjects
// the command to the approval gate before the trigger may apply.
type CommandDefinition struct {
	Command string `json:"command" yaml:"command"`
	Action  string `json:"action" yaml:"action"`
	Trigger string `json:"trigger,omitempty" yaml:"trigger"`
	Policy  string `json:"policy,omitempty" yaml:"policy"`
}

// EventDefinition declares a named event the journey emits. Dispatch is the
// responsibility of an external collaborator; the core only reports which
// event names apply.
type EventDefinition struct {
	Name    string `json:"name" yaml:"name"`
	On      string `json:"on" yaml:"on"`
	Trigger string `json:"trigger,omitempty" yaml:"trigger"`
}

// HasState reports whether name is a declared state of the definition.
func (d *JourneyDefinition) HasState(name string) bool {
	for _, s := range d.States {
		if s == name {
			return true
		}
	}
	return false
}

// FindCommand returns the command declaration with the given name.
func (d *JourneyDefinition) FindCommand(name string) (CommandDefinition, bool) {
	for _, c := range d.Commands {
		if c.Command == name {
			return c, true
		}
	}
	return CommandDefinition{}, false
}

// FindTransition returns the first declared transition matching the given
// (fromState, trigger) pair. The validator rejects duplicate pairs at publish
// time, so first-declared match is unambiguous for well-formed definitions.
func (d *JourneyDefinition) FindTransition(fromState, trigger string) (TransitionDefinition, bool) {
	for _, t := range d.Transitions {
		if t.FromState == fromState && t.Trigger == trigger {
			return t, true
		}
	}
	return TransitionDefinition{}, false
}

// EventsOn returns the declared event names bound to the given lifecycle
// point. For transition-bound events, trigger narrows the match.
func (d *JourneyDefinition) EventsOn(on, trigger string) []string {
	var names []string
	for _, e := range d.Events {
		if e.On != on {
			continue
		}
		if on == EventOnTransition && e.Trigger != "" && e.Trigger != trigger {
			continue
		}
		names = append(names, e.Name)
	}
	return names
}
