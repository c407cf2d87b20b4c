package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", errors.New("SQLITE_BUSY: cannot commit"), true},
		{"locked wrapped", fmt.Errorf("upsert slot: %w", errors.New("database is locked (5)")), true},
		{"other", errors.New("no such table: state_slots"), false},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("%s: IsSQLiteConflictError = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	calls := 0
	retries := 0
	err := RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	}, func(int, time.Duration) { retries++ })
	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if calls != 3 || retries != 2 {
		t.Errorf("Expected 3 calls and 2 retries, got %d and %d", calls, retries)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	if err := RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return permanent
	}, nil); !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("Expected one call returning the permanent error, got %d calls and %v", calls, err)
	}
}
