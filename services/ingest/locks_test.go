package ingest

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTimeoutError_Message(t *testing.T) {
	err := &LockTimeoutError{LockName: jobInitLockName, Waited: 10 * time.Minute}

	assert.Contains(t, err.Error(), "documind_gpu_lock")
	assert.Contains(t, err.Error(), "Workers are heavily backlogged")
}

func TestLockTimeoutError_ErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("job init: %w", &LockTimeoutError{LockName: jobInitLockName, Waited: time.Minute})

	var lockErr *LockTimeoutError
	require.True(t, errors.As(wrapped, &lockErr))
	assert.Equal(t, jobInitLockName, lockErr.LockName)
}

func TestLockPolicies(t *testing.T) {
	// The job-init wait is bounded and shorter than its expiry, so a
	// crashed holder can never block the queue past one expiry window.
	assert.Less(t, jobInitLockWait, jobInitLockExpiry)
	assert.Equal(t, 30*time.Minute, jobInitLockExpiry)
	assert.Equal(t, 10*time.Minute, jobInitLockWait)
}
