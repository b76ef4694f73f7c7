package firewall

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

func TestRedisBlocker(t *testing.T) {
	client, mock := redismock.NewClientMock()
	blocker := NewRedisBlocker(client, "")
	ctx := context.Background()

	mock.ExpectSIsMember(DefaultBlockSetKey, "10.0.0.5").SetVal(false)
	mock.ExpectSAdd(DefaultBlockSetKey, "10.0.0.5").SetVal(1)
	mock.ExpectSIsMember(DefaultBlockSetKey, "10.0.0.5").SetVal(true)
	mock.ExpectSRem(DefaultBlockSetKey, "10.0.0.5").SetVal(1)

	blocked, err := blocker.IsBlocked(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, blocker.Block(ctx, "10.0.0.5"))

	blocked, err = blocker.IsBlocked(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, blocked)

	require.NoError(t, blocker.Unblock(ctx, "10.0.0.5"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBlocker_Errors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	blocker := NewRedisBlocker(client, "custom:set")
	ctx := context.Background()

	mock.ExpectSAdd("custom:set", "10.0.0.5").SetErr(errors.New("READONLY"))
	err := blocker.Block(ctx, "10.0.0.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")

	_, err = blocker.IsBlocked(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrUnknownAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}
