package rewire

import (
	"time"
)

type NodeEvent struct {
	Node     *Node
	State    State
	Duration time.Duration
	Err      error
}

type NodeObserver func(NodeEvent)

type SolveEvent struct {
	Nodes    int
	Failed   int
	Skipped  int
	Waves    int
	Duration time.Duration
	Err      error
}

type SolveObserver func(SolveEvent)

type TaskEvent struct {
	Task     string
	Started  bool
	Duration time.Duration
	Err      error
}

type TaskObserver func(TaskEvent)

type HookEvent struct {
	Hook     string
	Group    string
	Duration time.Duration
	Err      error
}

type HookObserver func(HookEvent)
