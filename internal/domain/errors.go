package domain

import "errors"

// ErrContract marks Tier-0 contract violations: invalid trade dates, history
// length inequality, a mutated Time column, a slot outside the selectable
// set. Builds abort when they see one.
var ErrContract = errors.New("contract violation")

// ErrMissingCriticalStream is returned when a critical stream has no
// directory, no files, or no usable rows.
var ErrMissingCriticalStream = errors.New("missing critical stream")

// ErrNoCheckpoint is returned when a rolling resequence finds no usable
// checkpoint. Recovery: run a full rebuild first.
var ErrNoCheckpoint = errors.New("no usable checkpoint")
