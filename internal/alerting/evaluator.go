package alerting

import (
	"math"

	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

// Outcome is the verdict of one rule against one snapshot.
type Outcome int

const (
	// OutcomeSkipped means the rule has no opinion: it is inactive, or the
	// snapshot lacks a usable reading, or the rule is malformed.
	OutcomeSkipped Outcome = iota
	OutcomeNotMet
	OutcomeMet
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMet:
		return "met"
	case OutcomeNotMet:
		return "not_met"
	default:
		return "skipped"
	}
}

// Result carries the outcome and, unless skipped, the reading that was compared.
type Result struct {
	Outcome Outcome
	Value   float64
}

// Met reports whether the rule's condition holds.
func (r Result) Met() bool { return r.Outcome == OutcomeMet }

// Evaluate applies rule to snapshot. It never fails: anything that prevents
// a comparison yields OutcomeSkipped.
func Evaluate(snapshot *sensor.Snapshot, rule *entities.AlertRule) Result {
	if rule == nil || !rule.Active || !rule.Parameter.Valid() {
		return Result{Outcome: OutcomeSkipped}
	}
	if math.IsNaN(rule.Threshold) || math.IsInf(rule.Threshold, 0) {
		return Result{Outcome: OutcomeSkipped}
	}

	value, ok := snapshot.Value(rule.Parameter)
	if !ok {
		return Result{Outcome: OutcomeSkipped}
	}

	met, ok := compare(rule.Comparison, value, rule.Threshold)
	if !ok {
		return Result{Outcome: OutcomeSkipped}
	}
	if met {
		return Result{Outcome: OutcomeMet, Value: value}
	}
	return Result{Outcome: OutcomeNotMet, Value: value}
}

// compare is plain IEEE-754 comparison with inclusive >= and <=.
func compare(op string, value, threshold float64) (met, known bool) {
	switch op {
	case ComparisonGreater:
		return value > threshold, true
	case ComparisonLess:
		return value < threshold, true
	case ComparisonGreaterOrEqual:
		return value >= threshold, true
	case ComparisonLessOrEqual:
		return value <= threshold, true
	default:
		return false, false
	}
}
