package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSaga_RunsAllSteps(t *testing.T) {
	var order []string

	sg := newSaga(testLogger(), 0, time.Millisecond)

	err := sg.run(context.Background(), []step{
		{
			name: "first",
			run: func(ctx context.Context) error {
				order = append(order, "first")
				return nil
			},
		},
		{
			name: "second",
			run: func(ctx context.Context) error {
				order = append(order, "second")
				return nil
			},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestSaga_CompensatesInReverseOrder(t *testing.T) {
	var compensated []string
	boom := errors.New("boom")

	sg := newSaga(testLogger(), 0, time.Millisecond)

	err := sg.run(context.Background(), []step{
		{
			name: "first",
			run:  func(ctx context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				compensated = append(compensated, "first")
				return nil
			},
		},
		{
			name: "second",
			run:  func(ctx context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				compensated = append(compensated, "second")
				return nil
			},
		},
		{
			name: "third",
			run:  func(ctx context.Context) error { return boom },
		},
	})

	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCompensationFailed)
	assert.Equal(t, []string{"second", "first"}, compensated)
}

func TestSaga_FailedStepIsNotCompensated(t *testing.T) {
	boom := errors.New("boom")
	var failedStepCompensated bool

	sg := newSaga(testLogger(), 0, time.Millisecond)

	err := sg.run(context.Background(), []step{
		{
			name: "failing",
			run:  func(ctx context.Context) error { return boom },
			compensate: func(ctx context.Context) error {
				failedStepCompensated = true
				return nil
			},
		},
	})

	require.ErrorIs(t, err, boom)
	assert.False(t, failedStepCompensated)
}

func TestSaga_NilCompensateIsSkipped(t *testing.T) {
	var compensated []string
	boom := errors.New("boom")

	sg := newSaga(testLogger(), 0, time.Millisecond)

	err := sg.run(context.Background(), []step{
		{
			name: "undoable",
			run:  func(ctx context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				compensated = append(compensated, "undoable")
				return nil
			},
		},
		{
			name: "one-way",
			run:  func(ctx context.Context) error { return nil },
		},
		{
			name: "failing",
			run:  func(ctx context.Context) error { return boom },
		},
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"undoable"}, compensated)
}

func TestSaga_CompensationRetriesUntilSuccess(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0

	sg := newSaga(testLogger(), 2, time.Millisecond)

	err := sg.run(context.Background(), []step{
		{
			name: "flaky-undo",
			run:  func(ctx context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				attempts++
				if attempts < 3 {
					return errors.New("transient")
				}
				return nil
			},
		},
		{
			name: "failing",
			run:  func(ctx context.Context) error { return boom },
		},
	})

	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCompensationFailed)
	assert.Equal(t, 3, attempts)
}

func TestSaga_ExhaustedCompensationSurfaces(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0

	sg := newSaga(testLogger(), 1, time.Millisecond)

	err := sg.run(context.Background(), []step{
		{
			name: "broken-undo",
			run:  func(ctx context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				attempts++
				return errors.New("still broken")
			},
		},
		{
			name: "failing",
			run:  func(ctx context.Context) error { return boom },
		},
	})

	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, ErrCompensationFailed)
	assert.Contains(t, err.Error(), "broken-undo")
	assert.Equal(t, 2, attempts)
}

func TestSaga_RemainingCompensationsRunAfterOneFails(t *testing.T) {
	boom := errors.New("boom")
	var compensated []string

	sg := newSaga(testLogger(), 0, time.Millisecond)

	err := sg.run(context.Background(), []step{
		{
			name: "first",
			run:  func(ctx context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				compensated = append(compensated, "first")
				return nil
			},
		},
		{
			name: "second",
			run:  func(ctx context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				return errors.New("stuck")
			},
		},
		{
			name: "failing",
			run:  func(ctx context.Context) error { return boom },
		},
	})

	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, ErrCompensationFailed)
	assert.Equal(t, []string{"first"}, compensated)
}
