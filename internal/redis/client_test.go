package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lastfmproxy/lastfmproxy/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Single(t *testing.T) {
	t.Run("connects and round-trips", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewClient(config.RedisConfig{Endpoints: []string{mr.Addr()}, Mode: config.RedisModeSingle})
		require.NoError(t, err)
		defer client.Close()

		ctx := context.Background()
		require.NoError(t, client.Set(ctx, "k", "v", time.Minute).Err())
		got, err := client.Get(ctx, "k").Result()
		require.NoError(t, err)
		assert.Equal(t, "v", got)

		_, err = client.Get(ctx, "missing").Result()
		assert.ErrorIs(t, err, Nil)

		n, err := client.Del(ctx, "k").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("unreachable address", func(t *testing.T) {
		_, err := NewClient(config.RedisConfig{
			Endpoints:   []string{"127.0.0.1:1"},
			Mode:        config.RedisModeSingle,
			DialTimeout: "100ms",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "single: connect")
	})

	t.Run("without ping does not dial", func(t *testing.T) {
		client, err := NewClientWithoutPing(config.RedisConfig{Endpoints: []string{"127.0.0.1:1"}})
		require.NoError(t, err)
		assert.NoError(t, client.Close())
	})
}

func TestNewClient_Cluster(t *testing.T) {
	_, err := NewClient(config.RedisConfig{
		Endpoints:   []string{"127.0.0.1:1", "127.0.0.1:2"},
		Mode:        config.RedisModeCluster,
		DialTimeout: "100ms",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster: connect")
}

func TestNewClient_UnknownMode(t *testing.T) {
	_, err := NewClient(config.RedisConfig{Endpoints: []string{"redis:6379"}, Mode: "magic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown redis mode")
}

func TestParseOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts, err := parseOptions(config.RedisConfig{Endpoints: []string{"redis:6379"}})
		require.NoError(t, err)

		assert.Equal(t, config.RedisModeSingle, opts.mode)
		assert.Equal(t, 10, opts.poolSize)
		assert.Equal(t, 5*time.Second, opts.dialTimeout)
		assert.Equal(t, 3*time.Second, opts.readTimeout)
		assert.Equal(t, 3*time.Second, opts.writeTimeout)
	})

	t.Run("custom values", func(t *testing.T) {
		opts, err := parseOptions(config.RedisConfig{
			Endpoints:   []string{"redis:6379"},
			PoolSize:    20,
			DialTimeout: "10s",
			Password:    "pw",
		})
		require.NoError(t, err)
		assert.Equal(t, 20, opts.poolSize)
		assert.Equal(t, 10*time.Second, opts.dialTimeout)
		assert.Equal(t, "pw", opts.password)
	})

	t.Run("invalid timeout", func(t *testing.T) {
		_, err := parseOptions(config.RedisConfig{Endpoints: []string{"redis:6379"}, DialTimeout: "soon"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dial_timeout")
	})

	t.Run("no endpoints", func(t *testing.T) {
		_, err := parseOptions(config.RedisConfig{})
		assert.Error(t, err)
	})
}

func TestIsConnectivityErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"refused", fmt.Errorf("dial tcp: connection refused"), true},
		{"eof", fmt.Errorf("read tcp: EOF"), true},
		{"clusterdown", fmt.Errorf("CLUSTERDOWN The cluster is down"), true},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("x")}, true},
		{"readonly", fmt.Errorf("READONLY You can't write"), false},
		{"other", fmt.Errorf("WRONGTYPE"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectivityErr(tt.err))
		})
	}
}

func TestTLSConfig(t *testing.T) {
	assert.Nil(t, (&options{}).tlsConfig())

	cfg := (&options{tlsEnabled: true, tlsSkipVerify: true}).tlsConfig()
	require.NotNil(t, cfg)
	assert.True(t, cfg.InsecureSkipVerify)
}
