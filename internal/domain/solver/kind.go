package solver

import (
	"fmt"
	"strings"
)

// Kind identifies a solver variant.
type Kind int

// Solver variants.
const (
	KindUnknown Kind = iota
	KindMultilateration
	KindAggregateDistance
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMultilateration:
		return "MLat"
	case KindAggregateDistance:
		return "Single n:n"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a configuration solver_type onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mlat", "multilateration":
		return KindMultilateration, nil
	case "single n:n", "single", "aggregate":
		return KindAggregateDistance, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownSolver, s)
	}
}

// Aggregate folds the sample distances of an AggregateDistance solver.
type Aggregate int

// Aggregate modes.
const (
	AggregateMean Aggregate = iota
	AggregateMin
	AggregateMax
)

// String returns the configuration name of the mode.
func (a Aggregate) String() string {
	switch a {
	case AggregateMin:
		return "Min"
	case AggregateMax:
		return "Max"
	default:
		return "Mean"
	}
}

// ParseAggregate maps single_n2n_mode onto an Aggregate. Empty means mean.
func ParseAggregate(s string) (Aggregate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mean":
		return AggregateMean, nil
	case "min":
		return AggregateMin, nil
	case "max":
		return AggregateMax, nil
	default:
		return AggregateMean, fmt.Errorf("%w: unknown aggregate mode %q", ErrInvalidSetup, s)
	}
}

// Outcome classifies the result of one Solve call.
type Outcome int

// Solve outcomes. Only OutcomeSolved drives the motors with new speeds.
const (
	OutcomeSolved Outcome = iota
	OutcomeStale
	OutcomeUnsolvable
	OutcomeImplausible
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSolved:
		return "solved"
	case OutcomeStale:
		return "stale"
	case OutcomeUnsolvable:
		return "unsolvable"
	case OutcomeImplausible:
		return "implausible"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}
