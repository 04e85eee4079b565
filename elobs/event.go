package elobs

import (
	"errors"
	"fmt"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/dom"
)

var (
	ErrInvalidMatcher     = errors.New("elobs: invalid matcher")
	ErrUnsupportedMatcher = errors.New("elobs: node matchers cannot observe changed")
	ErrNilHandler         = errors.New("elobs: nil handler")
	ErrInvalidKind        = errors.New("elobs: invalid event kind")
	ErrNoDocument         = errors.New("elobs: no document")
	ErrNoLoop             = errors.New("elobs: document has no loop")
	ErrNilTerritory       = errors.New("elobs: nil territory")
	ErrNoDefault          = errors.New("elobs: no default engine")
	ErrPanic              = errors.New("elobs: handler panicked")
)

// Event is delivered to handlers.
type Event struct {
	Kind    EventKind
	Node    *html.Node
	Matcher Matcher
	// Disconnect removes the registration that received the event.
	Disconnect Disconnector
	// Record is the change that produced the event. It is nil for the
	// registration-time scan of Exists and for IfExists.
	Record *dom.Record
}

// Handler receives events. An error return is reported, never propagated.
type Handler interface {
	HandleEvent(Event) error
}

// HandlerFunc adapts a function to Handler. Function values are not
// comparable, so each registration of a HandlerFunc is a distinct
// registration.
type HandlerFunc func(Event) error

func (f HandlerFunc) HandleEvent(ev Event) error { return f(ev) }

// Async returns a handler that runs fn on its own goroutine. The engine
// does not wait for it; its error, if any, goes to the engine's reporter.
// fn must not touch the engine or the document except through the loop.
func Async(fn func(Event) error) Handler {
	return &asyncHandler{fn: fn}
}

type asyncHandler struct {
	fn func(Event) error
}

func (a *asyncHandler) HandleEvent(ev Event) error { return a.fn(ev) }

// Disconnector removes exactly one registration. Calling it more than once
// is a no-op.
type Disconnector func()

// ReportFunc receives callback failures. It is called on the loop, except
// for Async handlers whose failures are reported from their goroutine.
type ReportFunc func(error)

// CallbackError describes a handler that returned an error or panicked.
type CallbackError struct {
	Kind    EventKind
	Matcher Matcher
	Node    *html.Node
	Err     error
}

func (e *CallbackError) Error() string {
	tag := ""
	if e.Node != nil {
		tag = e.Node.Data
	}
	return fmt.Sprintf("elobs: %s handler for %s on <%s>: %v", e.Kind, e.Matcher, tag, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
