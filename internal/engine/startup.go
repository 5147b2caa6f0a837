package engine

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that the Engine is reachable and the given models are
// available. Missing models are pulled when the backend supports it, with
// progress written to w. The first model is then warmed up so the first
// classification does not pay the cold-load penalty.
func EnsureReady(ctx context.Context, e Engine, w io.Writer, models ...string) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("inference backend is not reachable; please ensure it is started")
	}

	seen := make(map[string]bool, len(models))
	var first string
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true
		if first == "" {
			first = model
		}

		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		puller, ok := e.(Puller)
		if !ok {
			return fmt.Errorf("model %s is not available on the backend", model)
		}
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := puller.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if first == "" {
		return nil
	}
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := e.Chat(warmCtx, first, []Message{{Role: "user", Content: "ping"}}, ChatOptions{}); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", first, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", first)
	}
	return nil
}
