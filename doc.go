/*
Package weave composes values whose availability changes over time.

A DynamicSet describes zero or more live instances of a type. Instances
appear, disappear and are replaced in place; combinators derive new sets
from existing ones and the engine keeps every derived effect in step,
creating it when its inputs appear and releasing it when they go away.

# Basic Usage

Describe a pipeline, then run it:

	flags := weave.Decode[Flags](
	    weave.FromWatcher[weave.Entry](etcd.New(client, "/flags/"),
	        weave.WithRefresh(weave.SameValue)),
	)

	servers := weave.Combine(newServer, flags, listeners).
	    Effects(weave.Effect[*Server]{
	        OnAddAfter:     (*Server).Start,
	        OnRemoveBefore: (*Server).Stop,
	    })

	result, err := servers.Run(ctx)
	if err != nil {
	    return err
	}
	defer result.Close(ctx)

Running a set publishes everything currently available before returning.
Closing the Result releases every live effect exactly once,
last-created-first.

# Combinators

Map, TryMap, FlatMap and Then derive instances one to one or one to many.
Filter suppresses instances, Effects and Foreach attach side effects, and
Recover and RecoverWith substitute instances whose publication failed.

Combine, ApplyTo and CombineAll maintain the live cartesian product of
several sets. Distribute, SplitBy and Choose fan instances out into
sub-pipelines. Highest keeps only the best-ranked instance. Transform
rewires the sink chain directly when no combinator fits.

Component wires an instance to the sets it depends on:

	api := weave.Mandatory(weave.NewComponentFunc(newAPI), databases,
	    (*API).SetDB, nil)
	api = weave.Optional(api, caches, (*API).SetCache, nil)
	servers := api.PostConstruct((*API).Start).PreDestroy((*API).Stop).Set()

# Updates

A source reports a change in place through its Notifier. When the refresh
predicate calls the change cosmetic, the existing instances are updated
without being released. Otherwise the instance is released inside an
update region opened with Coalesce and published again once the region
has run every release along the pipeline, so observers at the end of the
pipeline see one replacement instead of a gap. The republish is an
ordinary publish: Recover, Distribute and joins handle its failure as
they would any other.

Regions travel in the context. Code that does not hold the region's
context executes immediately.

# Sources

FromWatcher turns any Watcher into a set. The pkg directory provides
watchers for etcd, Consul, NATS JetStream, Redis, ZooKeeper, PostgreSQL,
Firestore, Kubernetes ConfigMaps and directories on disk. Registry is an
in-process source and ChannelWatcher adapts a channel of events.

# Decoding

Decode turns keyed entries into typed values using a Codec (JSON by
default, YAML and msgpack available) and runs Validate when the value
implements Validator. Values then pass through optional pipz middleware,
which can be guarded with WithRetry, WithBackoff, WithTimeout,
WithFallback or WithCircuitBreaker. An entry that fails any stage is
rejected on its own; the rest of the set keeps flowing.

# Observability

Lifecycle events are emitted as capitan signals:

	capitan.Hook(weave.PublishFailed, func(_ context.Context, e *capitan.Event) {
	    msg, _ := weave.KeyError.From(e)
	    log.Printf("publish failed: %s", msg)
	})

Results keep their recent failures, see Result.Errors, and report counts
to a MetricsProvider configured with WithMetrics.
*/
package weave
