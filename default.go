package rewire

import "sync"

var (
	defaultOnce      sync.Once
	defaultContainer *Container
	defaultLifecycle *Lifecycle
)

// DefaultContainer returns a process-wide container, created on first use with
// default options. It is a convenience for small programs; everything it
// offers is available on containers built with New.
func DefaultContainer() *Container {
	initDefaults()
	return defaultContainer
}

// DefaultLifecycle returns the lifecycle paired with DefaultContainer.
func DefaultLifecycle() *Lifecycle {
	initDefaults()
	return defaultLifecycle
}

func initDefaults() {
	defaultOnce.Do(func() {
		defaultContainer = New()
		defaultLifecycle = NewLifecycle()
	})
}
