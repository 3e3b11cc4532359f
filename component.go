package weave

import "slices"

// Component assembles instances of T that depend on other sets.
//
// Mandatory dependencies gate the instance: it is published once per live
// dependency instance, after set has run, and withdrawn when the dependency
// goes away. Optional dependencies are injected and removed while the
// instance stays published. A Component is immutable; every method returns
// a new one.
type Component[T any] struct {
	init          DynamicSet[T]
	mandatory     []func(DynamicSet[T]) DynamicSet[T]
	optional      []func(DynamicSet[T]) DynamicSet[T]
	postConstruct []func(T)
	preDestroy    []func(T)
}

// NewComponent starts a Component from the instances of init.
func NewComponent[T any](init DynamicSet[T]) Component[T] {
	return Component[T]{init: init}
}

// NewComponentFunc starts a Component that constructs one instance per run.
func NewComponentFunc[T any](construct func() T) Component[T] {
	return NewComponent(JustFunc(func() []T { return []T{construct()} }))
}

type dependency[T, S any] struct {
	component T
	value     S
}

func inject[T, S any](o DynamicSet[T], deps DynamicSet[S], set, unset func(T, S)) DynamicSet[dependency[T, S]] {
	if unset == nil {
		unset = func(t T, _ S) {
			var zero S
			set(t, zero)
		}
	}
	return Combine(func(t T, s S) dependency[T, S] { return dependency[T, S]{t, s} }, o, deps).
		Foreach(
			func(d dependency[T, S]) { set(d.component, d.value) },
			func(d dependency[T, S]) { unset(d.component, d.value) },
		)
}

// Mandatory adds a dependency the component cannot run without. set
// injects each live instance of deps; unset removes it again. A nil unset
// calls set with the zero value of S.
func Mandatory[T, S any](c Component[T], deps DynamicSet[S], set, unset func(T, S)) Component[T] {
	c.mandatory = append(slices.Clip(c.mandatory), func(o DynamicSet[T]) DynamicSet[T] {
		return Then(inject(o, deps, set, unset), o)
	})
	return c
}

// Optional adds a dependency injected whenever an instance of deps is live.
// The component is published whether or not one is.
func Optional[T, S any](c Component[T], deps DynamicSet[S], set, unset func(T, S)) Component[T] {
	c.optional = append(slices.Clip(c.optional), func(o DynamicSet[T]) DynamicSet[T] {
		return Then(inject(o, deps, set, unset), Nothing[T]())
	})
	return c
}

// PostConstruct runs fn once the instance is fully wired, before it is
// published.
func (c Component[T]) PostConstruct(fn func(T)) Component[T] {
	c.postConstruct = append(slices.Clip(c.postConstruct), fn)
	return c
}

// PreDestroy runs fn once the instance has been withdrawn.
func (c Component[T]) PreDestroy(fn func(T)) Component[T] {
	c.preDestroy = append(slices.Clip(c.preDestroy), fn)
	return c
}

// Set returns the DynamicSet of wired component instances.
func (c Component[T]) Set() DynamicSet[T] {
	program := c.init

	for _, m := range c.mandatory {
		program = FlatMap(program, func(t T) DynamicSet[T] { return m(Just(t)) })
	}

	for _, o := range c.optional {
		program = Distribute(program,
			func(p DynamicSet[T]) DynamicSet[T] { return p },
			o,
		)
	}

	if len(c.postConstruct)+len(c.preDestroy) == 0 {
		return program
	}
	post, pre := c.postConstruct, c.preDestroy
	return program.Foreach(
		func(t T) {
			for _, fn := range post {
				fn(t)
			}
		},
		func(t T) {
			for _, fn := range pre {
				fn(t)
			}
		},
	)
}
