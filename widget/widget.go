// Package widget implements the image search widget: a view-state object
// holding the query text, the public-only flag, the current results and a
// loading flag, with one update function per user event and a Submit effect
// that performs the network call.
package widget

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/letmevibethatforyou/imagesearch"
)

// KeyEnter is the key name that submits a search from the query input.
const KeyEnter = "Enter"

// State is a snapshot of the widget's view state.
type State struct {
	Query      string
	Results    []imagesearch.Image
	Loading    bool
	PublicOnly bool
}

// WithQuery returns s with the query text replaced.
func (s State) WithQuery(text string) State {
	s.Query = text
	return s
}

// WithPublicOnly returns s with the public-only flag replaced.
func (s State) WithPublicOnly(publicOnly bool) State {
	s.PublicOnly = publicOnly
	return s
}

// WithResults returns s with the result list replaced wholesale. A nil list
// is stored as an empty one.
func (s State) WithResults(items []imagesearch.Image) State {
	if items == nil {
		items = []imagesearch.Image{}
	}
	s.Results = items
	return s
}

// WithLoading returns s with the loading flag replaced.
func (s State) WithLoading(loading bool) State {
	s.Loading = loading
	return s
}

// CanSubmit reports whether the query is non-blank.
func (s State) CanSubmit() bool {
	return strings.TrimSpace(s.Query) != ""
}

func (s State) clone() State {
	if s.Results != nil {
		s.Results = append([]imagesearch.Image(nil), s.Results...)
	}
	return s
}

// Widget owns a State and mutates it in response to user events. It is safe
// for concurrent use; the network call runs without holding the state lock.
type Widget struct {
	searcher  imagesearch.Searcher
	logger    *slog.Logger
	observers []func(State)

	mu    sync.Mutex
	state State
}

// Option configures a Widget.
type Option func(*Widget)

// WithLogger sets the logger used for failed searches.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Widget) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithObserver registers fn to receive a snapshot after every state change.
func WithObserver(fn func(State)) Option {
	return func(w *Widget) {
		if fn != nil {
			w.observers = append(w.observers, fn)
		}
	}
}

// New creates a widget that searches through searcher.
func New(searcher imagesearch.Searcher, opts ...Option) *Widget {
	w := &Widget{
		searcher: searcher,
		logger:   slog.Default(),
		state:    State{Results: []imagesearch.Image{}},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns a copy of the current state.
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.clone()
}

func (w *Widget) update(fn func(State) State) {
	w.mu.Lock()
	w.state = fn(w.state)
	snapshot := w.state.clone()
	w.mu.Unlock()

	for _, observe := range w.observers {
		observe(snapshot)
	}
}

// SetQuery handles a change of the query input.
func (w *Widget) SetQuery(text string) {
	w.update(func(s State) State { return s.WithQuery(text) })
}

// SetPublicOnly handles a change of the public-only checkbox.
func (w *Widget) SetPublicOnly(publicOnly bool) {
	w.update(func(s State) State { return s.WithPublicOnly(publicOnly) })
}

// KeyDown handles a key press in the query input. Only KeyEnter submits.
func (w *Widget) KeyDown(ctx context.Context, key string) {
	if key == KeyEnter {
		w.Submit(ctx)
	}
}

// Click handles a click on the search button.
func (w *Widget) Click(ctx context.Context) {
	w.Submit(ctx)
}

// Submit runs one search for the current query and public-only flag. A blank
// query is ignored. Failures of any kind leave an empty result list and are
// only logged. Overlapping calls are not sequenced: whichever response is
// handled last determines the results.
func (w *Widget) Submit(ctx context.Context) {
	w.mu.Lock()
	current := w.state
	w.mu.Unlock()

	if !current.CanSubmit() {
		return
	}

	w.update(func(s State) State { return s.WithLoading(true) })
	defer w.update(func(s State) State { return s.WithLoading(false) })

	items, err := w.search(ctx, current.Query, current.PublicOnly)
	if err != nil {
		w.logger.ErrorContext(ctx, "Search failed",
			"query", current.Query,
			"public_only", current.PublicOnly,
			"error", err,
		)
		items = nil
	}

	w.update(func(s State) State { return s.WithResults(items) })
}

func (w *Widget) search(ctx context.Context, query string, publicOnly bool) (items []imagesearch.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("search panicked: %v", r)
		}
	}()

	res, err := w.searcher.Search(ctx, query, imagesearch.WithPublicOnly(publicOnly))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.Items, nil
}
