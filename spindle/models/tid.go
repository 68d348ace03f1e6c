package models

import "github.com/bluesky-social/indigo/atproto/syntax"

var TIDClock = syntax.NewTIDClock(0)

// TID returns a fresh timestamp identifier; ids from one clock sort in
// creation order.
func TID() string {
	return TIDClock.Next().String()
}

func NewRunId(workflow string) RunId {
	return RunId{Workflow: workflow, Rkey: TID()}
}
