package shutdown

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestShutdownRunsInOrder(t *testing.T) {
	gs := NewGracefulShutdown(time.Second, quietLogger())

	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	gs.RegisterShutdownFunc("rpc", record("rpc"), OrderCloseConnections)
	gs.RegisterShutdownFunc("http", record("http"), OrderStopHTTP)
	gs.RegisterShutdownFunc("airdrop", record("airdrop"), OrderWaitForRun)
	gs.RegisterShutdownFunc("output", record("output"), OrderFlushOutputs)

	assert.Equal(t, []string{"http", "airdrop", "output", "rpc"}, gs.GetRegisteredFunctions())

	gs.Shutdown()
	gs.Shutdown()
	require.NoError(t, gs.Wait())
	assert.Equal(t, []string{"http", "airdrop", "output", "rpc"}, order)
	assert.Error(t, gs.Context().Err())
}

func TestShutdownCollectsErrors(t *testing.T) {
	gs := NewGracefulShutdown(time.Second, quietLogger())
	ran := false
	gs.RegisterShutdownFunc("output", func(context.Context) error { return errors.New("disk full") }, OrderFlushOutputs)
	gs.RegisterShutdownFunc("rpc", func(context.Context) error { ran = true; return nil }, OrderCloseConnections)

	gs.Shutdown()
	err := gs.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, ran)
}

func TestShutdownTimeoutSkipsRemaining(t *testing.T) {
	gs := NewGracefulShutdown(20*time.Millisecond, quietLogger())
	ran := false
	gs.RegisterShutdownFunc("airdrop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, OrderWaitForRun)
	gs.RegisterShutdownFunc("rpc", func(context.Context) error { ran = true; return nil }, OrderCloseConnections)

	gs.Shutdown()
	assert.Error(t, gs.Wait())
	assert.False(t, ran)
}
