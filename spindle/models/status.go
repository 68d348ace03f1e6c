package models

import "slices"

type StatusKind string

var (
	StatusKindPending StatusKind = "pending"
	StatusKindRunning StatusKind = "running"
	StatusKindSuccess StatusKind = "success"
	StatusKindFailure StatusKind = "failure"
	StatusKindSkipped StatusKind = "skipped"

	StartStates  [2]StatusKind = [2]StatusKind{StatusKindPending, StatusKindRunning}
	FinishStates [3]StatusKind = [3]StatusKind{StatusKindSuccess, StatusKindFailure, StatusKindSkipped}
)

func (s StatusKind) String() string {
	return string(s)
}

func (s StatusKind) IsStart() bool {
	return slices.Contains(StartStates[:], s)
}

func (s StatusKind) IsFinish() bool {
	return slices.Contains(FinishStates[:], s)
}

// CanTransition enforces pending -> running -> {success, failure, skipped}.
// A pending job may also finish directly, e.g. when it is skipped or its
// definition is rejected.
func (s StatusKind) CanTransition(to StatusKind) bool {
	switch s {
	case StatusKindPending:
		return to == StatusKindRunning || to.IsFinish()
	case StatusKindRunning:
		return to.IsFinish()
	}
	return false
}
