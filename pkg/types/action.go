package types

import (
	"fmt"
	"strings"
)

// ActionKind identifies what an actor did to a block. The numeric codes are
// persisted in events.action_kind and must not be renumbered.
type ActionKind int

const (
	ActionPlaced      ActionKind = 1
	ActionBroken      ActionKind = 2
	ActionInteraction ActionKind = 3
)

// String returns the upper-case name of the action.
func (a ActionKind) String() string {
	switch a {
	case ActionPlaced:
		return "PLACED"
	case ActionBroken:
		return "BROKEN"
	case ActionInteraction:
		return "INTERACTION"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(a))
	}
}

// Valid reports whether a is one of the known action kinds.
func (a ActionKind) Valid() bool {
	return a >= ActionPlaced && a <= ActionInteraction
}

// Reversible reports whether rollback may revert actions of this kind.
// Interactions are never rolled back.
func (a ActionKind) Reversible() bool {
	return a == ActionPlaced || a == ActionBroken
}

// ActionKindFromCode maps a persisted code back to an ActionKind.
func ActionKindFromCode(code int) (ActionKind, error) {
	a := ActionKind(code)
	if !a.Valid() {
		return 0, fmt.Errorf("types: unknown action kind code %d", code)
	}
	return a, nil
}

// ParseActionKind parses the name produced by String, case-insensitively.
func ParseActionKind(s string) (ActionKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PLACED":
		return ActionPlaced, nil
	case "BROKEN":
		return ActionBroken, nil
	case "INTERACTION", "INTERACTED":
		return ActionInteraction, nil
	}
	return 0, fmt.Errorf("types: unknown action kind %q", s)
}

// Cause records what brought an action about. The zero value means the
// cause is unknown and is stored as NULL.
type Cause int

const (
	CauseUnknown   Cause = 0
	CausePlayer    Cause = 1
	CauseExplosion Cause = 2
	CausePiston    Cause = 3
	CauseMob       Cause = 4
)

// String returns the upper-case name of the cause.
func (c Cause) String() string {
	switch c {
	case CausePlayer:
		return "PLAYER"
	case CauseExplosion:
		return "EXPLOSION"
	case CausePiston:
		return "PISTON"
	case CauseMob:
		return "MOB"
	case CauseUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("Cause(%d)", int(c))
	}
}

// CauseFromCode maps a persisted code back to a Cause.
func CauseFromCode(code int) (Cause, error) {
	c := Cause(code)
	if c < CausePlayer || c > CauseMob {
		return CauseUnknown, fmt.Errorf("types: unknown cause code %d", code)
	}
	return c, nil
}
