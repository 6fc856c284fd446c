package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestProducer_PublishAfterCloseIsDropped(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	p := NewProducer([]string{"127.0.0.1:9"}, 4, zap.New(core))

	p.Publish("orders.created", []byte("k"), []byte("v"))
	assert.Len(t, p.inbox, 1)

	p.Close()
	assert.NotPanics(t, func() { p.Publish("orders.created", []byte("k"), []byte("late")) })
	assert.NotPanics(t, p.Close, "second close is a no-op")

	var queued int
	for range p.inbox {
		queued++
	}
	assert.Equal(t, 1, queued)
	assert.Equal(t, 1, logs.FilterMessage("publish after close, message dropped").Len())
}
