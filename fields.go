package weave

import "github.com/zoobzio/capitan"

// Field keys for weave events.
var (
	// KeyRunID is the unique identifier of a run.
	KeyRunID = capitan.NewStringKey("run_id")

	// KeyState is the current state of a run.
	KeyState = capitan.NewStringKey("state")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyStage is the termination step or pipeline stage that failed.
	KeyStage = capitan.NewStringKey("stage")

	// KeyResource is the key of a resource reported by a watcher.
	KeyResource = capitan.NewStringKey("resource")

	// KeyWatcherType is the type name of the watcher implementation.
	KeyWatcherType = capitan.NewStringKey("watcher_type")

	// KeyTerminations is the number of terminations run by a region flush.
	KeyTerminations = capitan.NewIntKey("terminations")

	// KeyPublications is the number of publications run by a region flush.
	KeyPublications = capitan.NewIntKey("publications")

	// KeyGroup is the key of a SplitBy group.
	KeyGroup = capitan.NewStringKey("group")

	// KeyPairs is the number of join pairs affected.
	KeyPairs = capitan.NewIntKey("pairs")

	// KeyCandidates is the number of live instances ranked by Highest.
	KeyCandidates = capitan.NewIntKey("candidates")

	// KeyDebounce is the configured debounce duration of a watcher.
	KeyDebounce = capitan.NewDurationKey("debounce")
)
