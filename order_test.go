package gax

import (
	"context"
	"strings"
	"testing"
)

func TestSortLayersRandomOrderSortsCorrectly(t *testing.T) {
	var trace []string

	layers := []Layer[string, string]{
		{Priority: PriorityUser, Name: "user", MW: traceMW(&trace, "user")},
		{Priority: PriorityRetry, Name: "retry", MW: traceMW(&trace, "retry")},
		{Priority: PriorityMetadata, Name: "metadata", MW: traceMW(&trace, "metadata")},
	}

	sorted := SortLayers(layers)
	if len(sorted) != 3 {
		t.Fatalf("SortLayers() returned %d middlewares, want 3", len(sorted))
	}

	fn := Chain(sorted...)(func(_ context.Context, _ string) (string, error) {
		trace = append(trace, "handler")
		return "ok", nil
	})

	if _, err := fn(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "metadata-before retry-before user-before handler user-after retry-after metadata-after"
	if got := strings.Join(trace, " "); got != want {
		t.Fatalf("trace = %q, want %q", got, want)
	}
}

func TestSortLayersStableForEqualPriority(t *testing.T) {
	var trace []string

	layers := []Layer[string, string]{
		{Priority: PriorityUser, Name: "user-0", MW: traceMW(&trace, "a")},
		{Priority: PriorityUser, Name: "user-1", MW: traceMW(&trace, "b")},
		{Priority: PriorityTimeout, Name: "timeout", MW: traceMW(&trace, "timeout")},
	}

	fn := Chain(SortLayers(layers)...)(func(context.Context, string) (string, error) {
		return "", nil
	})

	if _, err := fn(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "timeout-before a-before b-before b-after a-after timeout-after"
	if got := strings.Join(trace, " "); got != want {
		t.Fatalf("trace = %q, want %q", got, want)
	}
}

func TestSortLayersEmpty(t *testing.T) {
	if got := SortLayers[string, string](nil); got != nil {
		t.Fatalf("SortLayers(nil) = %v, want nil", got)
	}
}

func TestSortLayersDoesNotMutateInput(t *testing.T) {
	layers := []Layer[string, string]{
		{Priority: PriorityUser, Name: "user"},
		{Priority: PriorityMetadata, Name: "metadata"},
	}

	SortLayers(layers)

	if layers[0].Name != "user" {
		t.Fatalf("input reordered: %v", layers[0].Name)
	}
}
