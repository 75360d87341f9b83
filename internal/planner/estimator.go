package planner

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// CostEstimator scores how expensive it is to give task to worker.
// Lower is better; implementations must be pure and total.
type CostEstimator interface {
	Estimate(task Task, worker Worker) float64
}

const (
	distanceLoadPenalty   = 10.0
	timeLoadPenaltyFactor = 0.5

	// DefaultTaskDurationMin is used by TimeCostEstimator for tasks without an estimate.
	DefaultTaskDurationMin = 30.0
	DefaultTravelSpeed     = 1.0
)

const (
	EstimatorDistance = "distance"
	EstimatorTime     = "time"
)

// PriorityMultiplier scales a cost so that urgent work is cheaper and wins
// contested workers.
func PriorityMultiplier(p Priority) float64 {
	switch p {
	case Critical:
		return 0.5
	case High:
		return 0.7
	case Low:
		return 1.5
	default:
		return 1.0
	}
}

// DistanceCostEstimator is the default strategy: straight-line distance plus
// a fixed penalty for loaded workers.
type DistanceCostEstimator struct{}

func (DistanceCostEstimator) Estimate(task Task, worker Worker) float64 {
	distance := worker.Location.DistanceTo(task.Location)
	loadPenalty := worker.CurrentLoad * distanceLoadPenalty
	return (distance + loadPenalty) * PriorityMultiplier(task.Priority)
}

// TimeCostEstimator scores by minutes: travel at TravelSpeed distance units
// per minute plus task execution time.
type TimeCostEstimator struct {
	TravelSpeed float64
}

func NewTimeCostEstimator(speed float64) TimeCostEstimator {
	return TimeCostEstimator{TravelSpeed: speed}
}

func (e TimeCostEstimator) Estimate(task Task, worker Worker) float64 {
	distance := worker.Location.DistanceTo(task.Location)
	travelTime := distance / e.TravelSpeed
	execTime := DefaultTaskDurationMin
	if task.EstimatedDuration != nil {
		execTime = *task.EstimatedDuration
	}
	total := travelTime + execTime
	loadPenalty := worker.CurrentLoad * total * timeLoadPenaltyFactor
	return (total + loadPenalty) * PriorityMultiplier(task.Priority)
}

var (
	ErrUnknownEstimator   = errors.New("unknown cost estimator")
	ErrInvalidTravelSpeed = errors.New("travel speed must be finite and > 0")
)

// EstimatorConfig selects a built-in estimator by name.
type EstimatorConfig struct {
	Type        string  `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	TravelSpeed float64 `json:"travelSpeed,omitempty" yaml:"travelSpeed,omitempty" mapstructure:"travel_speed"`
}

// NewEstimator builds the estimator described by cfg. An empty type selects
// the distance estimator; a zero travel speed selects DefaultTravelSpeed.
func NewEstimator(cfg EstimatorConfig) (CostEstimator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", EstimatorDistance:
		return DistanceCostEstimator{}, nil
	case EstimatorTime:
		speed := cfg.TravelSpeed
		if speed == 0 {
			speed = DefaultTravelSpeed
		}
		if !(speed > 0) || math.IsInf(speed, 1) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTravelSpeed, speed)
		}
		return NewTimeCostEstimator(speed), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEstimator, cfg.Type)
}

// EstimatorName reports the config name of a built-in estimator, or "custom".
func EstimatorName(e CostEstimator) string {
	switch e.(type) {
	case DistanceCostEstimator, *DistanceCostEstimator:
		return EstimatorDistance
	case TimeCostEstimator, *TimeCostEstimator:
		return EstimatorTime
	}
	return "custom"
}
