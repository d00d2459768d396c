package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/config"
	"pulsarpub/internal/pub/loopback"
	"pulsarpub/internal/pub/producer"
)

func TestPublish_Loopback(t *testing.T) {
	logger := zaptest.NewLogger(t)
	broker, err := loopback.NewBroker(logger)
	require.NoError(t, err)

	opts := config.Options{Topic: "orders", Partitions: 2, Compression: "snappy"}
	partitions := []pub.PartitionProducer{
		broker.NewPartitionProducer(0, opts.Topic),
		broker.NewPartitionProducer(1, opts.Topic),
	}
	p, err := producer.NewProducer(partitions, broker.Connection(), opts, logger)
	require.NoError(t, err)

	require.NoError(t, publish(context.Background(), logger, p, "run-1", 11))
	require.NoError(t, p.Close())

	msgs := broker.Messages()
	require.Len(t, msgs, 11)
	assert.Equal(t, "order", msgs[0].Properties["type"])
	assert.JSONEq(t, `{"id":"run-1","source":"e2e"}`, msgs[0].Properties["run"])
	assert.NotEmpty(t, msgs[0].Key)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(Config{LogLevel: "debug"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = newLogger(Config{
		LogLevel:      "bogus",
		LogFile:       filepath.Join(t.TempDir(), "e2e.log"),
		LogMaxSizeMB:  1,
		LogMaxAgeDays: 1,
	})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
	logger.Info("written to file")
}
