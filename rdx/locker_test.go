package rdx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a live Redis; set REDIS_TEST_ADDR to run.
func TestLockerExcludesSecondHolder(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	conn, err := Connect(ctx, addr, "")
	require.NoError(t, err)
	defer conn.Close()

	l := NewLocker(conn, "test_lock:")
	release, ok, err := l.Acquire(ctx, "payouts", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "payouts", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := l.Acquire(ctx, "payouts", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}
