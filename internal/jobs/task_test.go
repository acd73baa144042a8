package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestTaskProgressThrottle(t *testing.T) {
	var writes [][2]int64
	task := NewTask(&Job{ID: "j"}, func(ctx context.Context, p, total int64) error {
		writes = append(writes, [2]int64{p, total})
		return nil
	}).Throttle(10, time.Hour)

	for i := int64(1); i <= 25; i++ {
		require.NoError(t, task.Progress(context.Background(), i, 25))
	}
	require.Equal(t, [][2]int64{{1, 25}, {11, 25}, {21, 25}, {25, 25}}, writes)
}

func TestTaskProgressIgnoresRegression(t *testing.T) {
	task := NewTask(&Job{ID: "j"}, func(ctx context.Context, p, total int64) error {
		return ErrProgressRegression
	})
	require.NoError(t, task.Progress(context.Background(), 1, 5))
	require.False(t, task.Cancelled())
}

func TestTaskProgressObservesCancellation(t *testing.T) {
	task := NewTask(&Job{ID: "j"}, func(ctx context.Context, p, total int64) error {
		return ErrTerminal
	})
	require.ErrorIs(t, task.Progress(context.Background(), 1, 5), ErrCancelled)
	require.True(t, task.Cancelled())
	require.ErrorIs(t, task.Progress(context.Background(), 2, 5), ErrCancelled)
}

func TestTaskDecode(t *testing.T) {
	task := NewTask(&Job{ID: "j", OwnerID: 9, Payload: datatypes.JSON(`{"name":"x"}`)}, nil)
	var p struct {
		Name string `json:"name"`
	}
	require.NoError(t, task.Decode(&p))
	require.Equal(t, "x", p.Name)
	require.EqualValues(t, 9, task.OwnerID())

	bad := NewTask(&Job{ID: "j", Payload: datatypes.JSON(`[1,2]`)}, nil)
	err := bad.Decode(&p)
	require.Error(t, err)
	require.Contains(t, SanitizeError(err), "invalid payload")
}
