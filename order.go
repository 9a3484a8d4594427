package gax

import "sort"

// Layer is a middleware with the priority that places it in a call's
// middleware stack.
type Layer[Req, Resp any] struct {
	MW       Middleware[Req, Resp]
	Name     string
	Priority int
}

// Priorities of the layers a [Callable] composes. Lower priority means
// outermost.
const (
	PriorityMetadata = 0 // attaches outgoing metadata once per call
	PriorityRetry    = 1
	PriorityTimeout  = 2 // only when the call is not retried
	PriorityUser     = 3 // closest to the raw call
)

// SortLayers orders layers by priority, lowest (outermost) first. Layers
// of equal priority keep their relative order.
func SortLayers[Req, Resp any](layers []Layer[Req, Resp]) []Middleware[Req, Resp] {
	if len(layers) == 0 {
		return nil
	}

	sorted := make([]Layer[Req, Resp], 0, len(layers))
	sorted = append(sorted, layers...)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	mws := make([]Middleware[Req, Resp], 0, len(sorted))
	for _, l := range sorted {
		mws = append(mws, l.MW)
	}

	return mws
}
