package weave

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on instance lifecycle events
// observed at the terminal sink of a run.
type MetricsProvider interface {
	// OnStateChange is called when the run transitions between states.
	OnStateChange(from, to State)

	// OnPublish is called when an instance reaches the terminal sink.
	OnPublish()

	// OnPublishFailure is called when the terminal sink rejects an instance
	// or a failure is escalated to the run's owner.
	OnPublishFailure()

	// OnTerminate is called when an instance published to the terminal sink is released.
	OnTerminate()

	// OnTerminationFailure is called when a termination step fails.
	// Stage names the failing step, for example "close" or "on-remove-before".
	OnTerminationFailure(stage string)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStateChange(_, _ State)      {}
func (NoOpMetricsProvider) OnPublish()                    {}
func (NoOpMetricsProvider) OnPublishFailure()             {}
func (NoOpMetricsProvider) OnTerminate()                  {}
func (NoOpMetricsProvider) OnTerminationFailure(_ string) {}
