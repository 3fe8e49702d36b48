package models

import (
	"fmt"
	"time"
)

// Plan is a named combination of cadence and total duration.
type Plan string

const (
	PlanNone    Plan = ""
	PlanExtreme Plan = "extreme"
	PlanTwoWeek Plan = "2week"
	PlanRegular Plan = "regular"
)

// PlanSpec describes what a plan delivers and at what cadence.
// Deliverable is false for plans that can be requested but never reach
// delivery (the Regular plan is still in development).
type PlanSpec struct {
	Name        string
	Price       string
	PerDay      int
	Interval    time.Duration
	TotalDays   int
	Deliverable bool
}

// TotalIterations is the delivery bound for the whole plan.
func (ps PlanSpec) TotalIterations() int {
	return ps.PerDay * ps.TotalDays
}

var planSpecs = map[Plan]PlanSpec{
	PlanExtreme: {
		Name:        "Экстремальный план",
		Price:       "4,990 ₽",
		PerDay:      6,
		Interval:    3 * time.Hour,
		TotalDays:   7,
		Deliverable: true,
	},
	PlanTwoWeek: {
		Name:        "2-недельный план",
		Price:       "2,490 ₽",
		PerDay:      1,
		Interval:    24 * time.Hour,
		TotalDays:   14,
		Deliverable: true,
	},
	PlanRegular: {
		Name:        "Обычный план",
		Price:       "990 ₽",
		PerDay:      1,
		Interval:    24 * time.Hour,
		TotalDays:   30,
		Deliverable: false,
	},
}

// Spec returns the plan's cadence description.
func (p Plan) Spec() (PlanSpec, bool) {
	ps, ok := planSpecs[p]
	return ps, ok
}

// NewSchedule derives the delivery schedule for a plan, anchored at
// now. Only deliverable plans have schedules.
func NewSchedule(p Plan, now time.Time) (*Schedule, error) {
	spec, ok := p.Spec()
	if !ok {
		return nil, fmt.Errorf("no spec for plan %q", p)
	}
	if !spec.Deliverable {
		return nil, fmt.Errorf("plan %q is not deliverable", p)
	}
	return &Schedule{
		StartAt:         now,
		Interval:        spec.Interval,
		PerDay:          spec.PerDay,
		TotalDays:       spec.TotalDays,
		TotalIterations: spec.TotalIterations(),
	}, nil
}
