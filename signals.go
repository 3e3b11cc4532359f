package weave

import "github.com/zoobzio/capitan"

// Run lifecycle signals.
var (
	// RunStarted is emitted when a DynamicSet starts running.
	RunStarted = capitan.NewSignal(
		"weave.run.started",
		"DynamicSet run started",
	)

	// RunFailed is emitted when a DynamicSet fails to start.
	RunFailed = capitan.NewSignal(
		"weave.run.failed",
		"DynamicSet run failed to start",
	)

	// RunClosed is emitted when a Result is closed.
	RunClosed = capitan.NewSignal(
		"weave.run.closed",
		"DynamicSet run closed",
	)

	// RunStateChanged is emitted when a Result transitions between states.
	RunStateChanged = capitan.NewSignal(
		"weave.run.state.changed",
		"Run state transition",
	)
)

// Instance lifecycle signals.
var (
	// PublishFailed is emitted when a publish failure is escalated to the run's owner.
	PublishFailed = capitan.NewSignal(
		"weave.publish.failed",
		"Publish failure escalated",
	)

	// TerminationFailed is emitted when a termination step fails.
	// The failure is recorded and the close cascade continues.
	TerminationFailed = capitan.NewSignal(
		"weave.termination.failed",
		"Termination step failed",
	)

	// RegionFlushed is emitted when an update region runs its deferred work.
	RegionFlushed = capitan.NewSignal(
		"weave.region.flushed",
		"Update region flushed",
	)
)

// Routing signals.
var (
	// GroupCreated is emitted when SplitBy starts the group of a new key.
	GroupCreated = capitan.NewSignal(
		"weave.group.created",
		"SplitBy group created",
	)

	// GroupClosed is emitted when the last member of a SplitBy group leaves.
	GroupClosed = capitan.NewSignal(
		"weave.group.closed",
		"SplitBy group closed",
	)

	// PairsRolledBack is emitted when a join closes the pairs already made
	// for an instance whose next pair failed to publish.
	PairsRolledBack = capitan.NewSignal(
		"weave.join.rolled_back",
		"Join pairs rolled back",
	)

	// TopChanged is emitted when Highest publishes a new top instance.
	TopChanged = capitan.NewSignal(
		"weave.highest.changed",
		"Highest top instance changed",
	)
)

// Source adapter signals.
var (
	// ResourceAdded is emitted when a watcher reports a new resource.
	ResourceAdded = capitan.NewSignal(
		"weave.resource.added",
		"Resource added",
	)

	// ResourceRefreshed is emitted when a modification is treated as cosmetic.
	ResourceRefreshed = capitan.NewSignal(
		"weave.resource.refreshed",
		"Resource refreshed in place",
	)

	// ResourceReplaced is emitted when a modification is treated as structural.
	ResourceReplaced = capitan.NewSignal(
		"weave.resource.replaced",
		"Resource terminated and republished",
	)

	// ResourceRemoved is emitted when a watcher reports a removed resource.
	ResourceRemoved = capitan.NewSignal(
		"weave.resource.removed",
		"Resource removed",
	)

	// WatchStarted is emitted when a watcher has delivered its initial
	// resources and starts following changes.
	WatchStarted = capitan.NewSignal(
		"weave.watch.started",
		"Watcher started",
	)

	// WatchFailed is emitted when a watcher cannot deliver a change.
	WatchFailed = capitan.NewSignal(
		"weave.watch.failed",
		"Watcher failed to deliver a change",
	)

	// DecodeFailed is emitted when an entry cannot be decoded or validated.
	DecodeFailed = capitan.NewSignal(
		"weave.decode.failed",
		"Entry decode failed",
	)
)
