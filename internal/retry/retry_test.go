package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := NewPolicy(3, time.Millisecond).Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_GivesUp(t *testing.T) {
	calls := 0
	err := NewPolicy(2, time.Millisecond).Execute(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, calls)
}

func TestExecute_NonRetryable(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")
	p := NewPolicy(5, time.Millisecond).Only(func(err error) bool { return errors.Is(err, errFlaky) })

	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := NewPolicy(5, time.Hour).Execute(ctx, func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}
