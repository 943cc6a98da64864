package outcome

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	logx "meetflow/pkg/logx"
)

func TestRecorderConcurrentCounts(t *testing.T) {
	t.Parallel()
	r := NewRecorder("auto-record")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Processed()
			switch i % 3 {
			case 0:
				r.Created()
			case 1:
				r.Skipped()
			default:
				r.Error(fmt.Errorf("candidate %d", i))
			}
		}(i)
	}
	wg.Wait()

	res := r.Result()
	if res.Processed != 50 || res.Created != 17 || res.Skipped != 17 || res.Errors != 16 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Total() != res.Processed {
		t.Fatalf("total %d != processed %d", res.Total(), res.Processed)
	}
	if len(res.Failures) != maxFailures {
		t.Fatalf("failures not capped: %d", len(res.Failures))
	}
}

func TestRecorderMergeAndJSON(t *testing.T) {
	t.Parallel()
	r := NewRecorder("calendar-sync")
	r.Merge(Result{Processed: 3, Created: 2, Updated: 1})
	r.Merge(Result{Processed: 1, Errors: 1, Failures: []string{"boom"}})
	r.Error(errors.New("late"))

	res := r.Log(logx.Nop())
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"processed":4,"created":2,"updated":1,"skipped":0,"errors":2,"failures":["boom","late"]}`
	if string(b) != want {
		t.Fatalf("json = %s", b)
	}
}
