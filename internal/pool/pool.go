package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/brensch/deccp/internal/work"
)

// DefaultWorkers is the pool width used when none is configured.
const DefaultWorkers = 4

// Task processes one item. It should report failures in the returned outcome;
// a panic is caught and turned into a failure for that item only.
type Task func(ctx context.Context, item work.Item) work.Outcome

// Run starts min(workers, len(items)) workers pulling from a shared queue and streams one
// outcome per item, in completion order. The channel is closed after the last outcome.
// workers < 1 is treated as 1.
func Run(ctx context.Context, items []work.Item, workers int, task Task) <-chan work.Outcome {
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = max(len(items), 1)
	}

	jobs := make(chan work.Item)
	results := make(chan work.Outcome, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				results <- runTask(ctx, task, item)
			}
		}()
	}

	go func() {
		for _, item := range items {
			jobs <- item
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// RunAll drains Run into a slice. Order is completion order, not input order.
func RunAll(ctx context.Context, items []work.Item, workers int, task Task) []work.Outcome {
	out := make([]work.Outcome, 0, len(items))
	for o := range Run(ctx, items, workers, task) {
		out = append(out, o)
	}
	return out
}

func runTask(ctx context.Context, task Task, item work.Item) work.Outcome {
	start := time.Now()
	var out work.Outcome
	var pc panics.Catcher
	pc.Try(func() { out = task(ctx, item) })
	if r := pc.Recovered(); r != nil {
		out = work.Failure(item.Name, fmt.Sprintf("internal error: %v", r.Value))
	}
	// The outcome always belongs to the submitted item.
	out.Name = item.Name
	if out.Elapsed == 0 {
		out.Elapsed = time.Since(start)
	}
	return out
}
