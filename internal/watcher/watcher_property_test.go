//go:build property

package watcher

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties validates batching guarantees of the debouncer
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("flush emits one sorted event per distinct path", prop.ForAll(
		func(ids []int) bool {
			if len(ids) == 0 {
				return true
			}

			d := NewDebouncer(time.Hour)
			distinct := map[string]bool{}
			for i, id := range ids {
				path := fmt.Sprintf("contexts/rx-%d.yaml", id)
				distinct[path] = true
				d.pending = append(d.pending, ChangeEvent{Path: path, Size: int64(i)})
			}
			d.flush()

			events := <-d.output
			if len(events) != len(distinct) {
				return false
			}
			return sort.SliceIsSorted(events, func(i, j int) bool { return events[i].Path < events[j].Path })
		},
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.Property("flush keeps the latest event per path", prop.ForAll(
		func(n int) bool {
			d := NewDebouncer(time.Hour)
			for i := 0; i < n; i++ {
				d.pending = append(d.pending, ChangeEvent{Path: "main.typ.tpl", Size: int64(i)})
			}
			d.flush()

			events := <-d.output
			return len(events) == 1 && events[0].Size == int64(n-1) && len(d.pending) == 0
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
