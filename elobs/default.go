package elobs

import (
	"sync/atomic"
	"time"
)

var defaultEngine atomic.Pointer[Engine]

// SetDefault installs e as the process-wide engine used by the package-level
// functions. Passing nil clears it.
func SetDefault(e *Engine) { defaultEngine.Store(e) }

// Default returns the process-wide engine, or nil.
func Default() *Engine { return defaultEngine.Load() }

func def() (*Engine, error) {
	e := defaultEngine.Load()
	if e == nil {
		return nil, ErrNoDefault
	}
	return e, nil
}

// OnExists registers on the default engine.
func OnExists(m Matcher, h Handler) (Disconnector, error) {
	e, err := def()
	if err != nil {
		return nil, err
	}
	return e.OnExists(m, h)
}

// OnCreated registers on the default engine.
func OnCreated(m Matcher, h Handler) (Disconnector, error) {
	e, err := def()
	if err != nil {
		return nil, err
	}
	return e.OnCreated(m, h)
}

// OnRemoved registers on the default engine.
func OnRemoved(m Matcher, h Handler) (Disconnector, error) {
	e, err := def()
	if err != nil {
		return nil, err
	}
	return e.OnRemoved(m, h)
}

// OnChanged registers on the default engine.
func OnChanged(m Matcher, h Handler) (Disconnector, error) {
	e, err := def()
	if err != nil {
		return nil, err
	}
	return e.OnChanged(m, h)
}

func IfExists(m Matcher, h Handler) error {
	e, err := def()
	if err != nil {
		return err
	}
	return e.IfExists(m, h)
}

func WaitFor(kind EventKind, m Matcher, timeout time.Duration) (*Future, error) {
	e, err := def()
	if err != nil {
		return nil, err
	}
	return e.WaitFor(kind, m, timeout)
}
