package batch

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	ok := NewResult("risk-decay")
	ok.Succeeded()
	assert.Equal(t, ExitOK, ok.ExitCode())
	assert.NoError(t, ok.Err())

	partial := NewResult("recurrence")
	partial.Succeeded()
	partial.Failed("series 1", errors.New("boom"))
	assert.Equal(t, ExitPartial, partial.ExitCode())
	assert.ErrorContains(t, partial.Err(), "series 1: boom")

	fatal := NewResult("recurrence")
	fatal.Failed("series 1", errors.New("boom"))
	fatal.Abort(errors.New("database unreachable"))
	assert.Equal(t, ExitFatal, fatal.ExitCode())
	assert.ErrorContains(t, fatal.Err(), "database unreachable")
}

func TestResultConcurrentUse(t *testing.T) {
	r := NewResult("risk-decay")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%10 == 0 {
				r.Failed("patient", errors.New("x"))
				return
			}
			r.Succeeded()
		}(i)
	}
	wg.Wait()

	processed, failed := r.Counts()
	assert.Equal(t, 50, processed)
	assert.Equal(t, 5, failed)
}
