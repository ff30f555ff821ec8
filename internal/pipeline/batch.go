package pipeline

import (
	"context"
	"runtime"
	"sync"

	"github.com/conneroisu/rxpdf/internal/artifact"
)

// Result is the outcome of one request in a batch.
type Result struct {
	Request Request
	Handle  *artifact.Handle
	Err     error
}

// GenerateAll runs reqs with at most workers concurrent generations and
// returns one Result per request, in request order. A failing request does
// not stop the others; a cancelled ctx fails every request not yet started.
func (o *Orchestrator) GenerateAll(ctx context.Context, reqs []Request, workers int) []Result {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(reqs) {
		workers = len(reqs)
	}

	results := make([]Result, len(reqs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				h, err := o.Generate(ctx, reqs[i])
				results[i] = Result{Request: reqs[i], Handle: h, Err: err}
			}
		}()
	}

	next := 0
feed:
	for ; next < len(reqs); next++ {
		select {
		case jobs <- next:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(reqs); i++ {
		results[i] = Result{Request: reqs[i], Err: ctx.Err()}
	}
	return results
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
