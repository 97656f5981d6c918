package server

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/qbit-dev/sandboxd/manager/configure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	conn, err := redis.Dial("tcp", mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &Service{
		configure: &configure.Configure{
			Redis: &configure.RedisConfigure{
				Prefix: "sandboxd:",
			},
		},
		redisConn: conn,
	}, mr
}

func TestCheckIfRequestExists(t *testing.T) {
	s, mr := newTestService(t)

	exists, err := s.checkIfRequestExists("req-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, exists, "first delivery must pass")

	exists, err = s.checkIfRequestExists("req-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, exists, "redelivery must be dropped")

	assert.Equal(t, time.Minute, mr.TTL("sandboxd:req-1"))

	exists, err = s.checkIfRequestExists("req-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, exists, "distinct requests are independent")
}

func TestSetRequestNotExist(t *testing.T) {
	s, _ := newTestService(t)

	exists, err := s.checkIfRequestExists("req-1", time.Minute)
	require.NoError(t, err)
	require.False(t, exists)

	// A failed pipeline clears the guard so the requeued message runs.
	require.NoError(t, s.setRequestNotExist("req-1"))

	exists, err = s.checkIfRequestExists("req-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, exists)
}
