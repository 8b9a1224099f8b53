package apperror

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTooLargeMentionsSizeLimit(t *testing.T) {
	err := TooLarge("repository acme/widgets", 1024, 4096)
	require.Contains(t, err.Error(), "size limit")
	require.Contains(t, err.Error(), "1024")
	require.False(t, IsRetryable(err))
}

func TestAs_FindsWrappedVariants(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		class     Class
		retryable bool
	}{
		{"input", NotFound("acme/widgets"), ClassInput, false},
		{"transient", RateLimited(time.Minute, errors.New("403")), ClassTransient, true},
		{"malformed", Malformed("scoring", errors.New("bad json")), ClassMalformed, false},
		{"persistence", Persistence("artifact upsert", errors.New("conn reset")), ClassPersistence, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("stage failed: %w", tc.err)
			appErr, ok := As(wrapped)
			require.True(t, ok)
			require.Equal(t, tc.class, appErr.Class())
			require.Equal(t, tc.retryable, IsRetryable(wrapped))
		})
	}
}

func TestAs_UnknownError(t *testing.T) {
	_, ok := As(errors.New("boom"))
	require.False(t, ok)
	require.False(t, IsRetryable(errors.New("boom")))
}

func TestRetryAfter(t *testing.T) {
	err := fmt.Errorf("resolve: %w", RateLimited(42*time.Second, nil))
	require.Equal(t, 42*time.Second, RetryAfter(err))
	require.Zero(t, RetryAfter(NotFound("x")))
}

func TestTimeoutUnwrapsContextError(t *testing.T) {
	err := Timeout(context.DeadlineExceeded)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, IsRetryable(err))
}

func TestIsNotFound(t *testing.T) {
	require.True(t, IsNotFound(fmt.Errorf("x: %w", NotFound("repo"))))
	require.False(t, IsNotFound(Inaccessible("repo")))
}
