package definition

import (
	"fmt"

	"github.com/chamahq/journey/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks journey definitions for structural and referential
// integrity before they are published. Graph well-formedness is enforced
// here, eagerly, so the engine can trust any persisted version.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a single definition and returns all violations found.
func (v *Validator) Validate(def model.JourneyDefinition) []VError {
	var errs []VError

	if def.Code == "" {
		errs = append(errs, VError{Path: "code", Code: "REQUIRED", Message: "code is required"})
	}
	if def.Name == "" {
		errs = append(errs, VError{Path: "name", Code: "REQUIRED", Message: "name is required"})
	}
	if len(def.States) == 0 {
		errs = append(errs, VError{Path: "states", Code: "REQUIRED", Message: "at least one state is required"})
	}

	states := make(map[string]bool, len(def.States))
	for i, s := range def.States {
		if s == "" {
			errs = append(errs, VError{
				Path: fmt.Sprintf("states[%d]", i), Code: "REQUIRED", Message: "state name must not be empty",
			})
			continue
		}
		if states[s] {
			errs = append(errs, VError{
				Path: fmt.Sprintf("states[%d]", i), Code: "DUPLICATE_STATE",
				Message: fmt.Sprintf("state %q is declared more than once", s),
			})
		}
		states[s] = true
	}

	if def.InitialState == "" {
		errs = append(errs, VError{Path: "initial_state", Code: "REQUIRED", Message: "initial_state is required"})
	} else if len(states) > 0 && !states[def.InitialState] {
		errs = append(errs, VError{
			Path: "initial_state", Code: "UNDECLARED_STATE",
			Message: fmt.Sprintf("initial_state %q is not a declared state", def.InitialState),
		})
	}

	// Transitions: endpoints must be declared states, (from, trigger) pairs
	// must be unique so runtime lookup is unambiguous.
	triggers := make(map[string]bool)
	pairs := make(map[string]bool)
	for i, t := range def.Transitions {
		path := fmt.Sprintf("transitions[%d]", i)
		if t.Trigger == "" {
			errs = append(errs, VError{Path: path + ".trigger", Code: "REQUIRED", Message: "trigger is required"})
		}
		if !states[t.FromState] {
			errs = append(errs, VError{
				Path: path + ".from", Code: "UNDECLARED_STATE",
				Message: fmt.Sprintf("from state %q is not a declared state", t.FromState),
			})
		}
		if !states[t.ToState] {
			errs = append(errs, VError{
				Path: path + ".to", Code: "UNDECLARED_STATE",
				Message: fmt.Sprintf("to state %q is not a declared state", t.ToState),
			})
		}
		key := t.FromState + "\x00" + t.Trigger
		if pairs[key] {
			errs = append(errs, VError{
				Path: path, Code: "DUPLICATE_TRANSITION",
				Message: fmt.Sprintf("transition (%s, %s) is declared more than once", t.FromState, t.Trigger),
			})
		}
		pairs[key] = true
		triggers[t.Trigger] = true
	}

	commands := make(map[string]bool)
	for i, c := range def.Commands {
		path := fmt.Sprintf("commands[%d]", i)
		if c.Command == "" {
			errs = append(errs, VError{Path: path + ".command", Code: "REQUIRED", Message: "command name is required"})
		}
		if commands[c.Command] {
			errs = append(errs, VError{
				Path: path + ".command", Code: "DUPLICATE_COMMAND",
				Message: fmt.Sprintf("command %q is declared more than once", c.Command),
			})
		}
		commands[c.Command] = true

		switch c.Action {
		case model.ActionCreateInstance, model.ActionResolveApproval:
		case model.ActionFireTrigger:
			if c.Trigger == "" {
				errs = append(errs, VError{
					Path: path + ".trigger", Code: "REQUIRED",
					Message: fmt.Sprintf("command %q fires a trigger but declares none", c.Command),
				})
			} else if !triggers[c.Trigger] {
				errs = append(errs, VError{
					Path: path + ".trigger", Code: "UNKNOWN_TRIGGER",
					Message: fmt.Sprintf("trigger %q does not match any transition", c.Trigger),
				})
			}
		default:
			errs = append(errs, VError{
				Path: path + ".action", Code: "INVALID_ENUM",
				Message: fmt.Sprintf("unknown action %q", c.Action),
			})
		}
	}

	for i, e := range def.Events {
		path := fmt.Sprintf("events[%d]", i)
		if e.Name == "" {
			errs = append(errs, VError{Path: path + ".name", Code: "REQUIRED", Message: "event name is required"})
		}
		switch e.On {
		case model.EventOnCreate:
		case model.EventOnTransition:
			if e.Trigger != "" && !triggers[e.Trigger] {
				errs = append(errs, VError{
					Path: path + ".trigger", Code: "UNKNOWN_TRIGGER",
					Message: fmt.Sprintf("trigger %q does not match any transition", e.Trigger),
				})
			}
		default:
			errs = append(errs, VError{
				Path: path + ".on", Code: "INVALID_ENUM",
				Message: fmt.Sprintf("unknown event binding %q", e.On),
			})
		}
	}

	return errs
}

// FieldErrors converts validation errors to envelope field errors.
func FieldErrors(verrs []VError) []model.FieldError {
	out := make([]model.FieldError, 0, len(verrs))
	for _, ve := range verrs {
		out = append(out, model.FieldError{Field: ve.Path, Code: ve.Code, Message: ve.Message})
	}
	return out
}
