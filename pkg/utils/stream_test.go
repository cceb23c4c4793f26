package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamItemsDrainsUntilClosed(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	var got []int
	err := StreamItems(context.Background(), ch, func(i int) error {
		got = append(got, i)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestStreamItemsStopsOnCallbackError(t *testing.T) {
	ch := make(chan int, 2)
	ch <- 1
	ch <- 2
	close(ch)

	boom := errors.New("boom")
	var got []int
	err := StreamItems(context.Background(), ch, func(i int) error {
		got = append(got, i)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, got)
}

func TestStreamItemsStopsOnContextCancel(t *testing.T) {
	ch := make(chan int)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := StreamItems(ctx, ch, func(int) error {
		return nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
