// ABOUTME: Tests for the walk-and-apply combinator
// ABOUTME: Checks skip/write/stop handling and error propagation from put

package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWalkCombinator(t *testing.T) {
	var put []int
	n, err := Walk([]int{1, 2, 3, 4, 5}, func(v int) Result[int] {
		switch {
		case v == 4:
			return Stop[int]()
		case v%2 == 1:
			return Write(v * 10)
		}
		return Skip[int]()
	}, func(v int) error {
		put = append(put, v)
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{10, 30}, put)
}

func TestWalkStopsOnPutError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	n, err := Walk([]int{1, 2}, func(v int) Result[int] {
		calls++
		return Write(v)
	}, func(int) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, calls)
}

func TestWalkEmpty(t *testing.T) {
	n, err := Walk(nil, func(v int) Result[int] { return Write(v) }, func(int) error { return nil })
	assert.NoError(t, err)
	assert.Zero(t, n)
}
