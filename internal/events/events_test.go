package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"bloodreport/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ev := NewAnalysisEvent(
		&model.File{ID: "file-1", Filename: "report.pdf"},
		&model.Analysis{ID: "an-1", Query: "q", Status: model.StatusSuccess, AnalyzedAt: at},
	)

	t.Run("encodes and keys the message", func(t *testing.T) {
		w := &captureWriter{}
		p := &KafkaPublisher{w: w}

		require.NoError(t, p.Publish(context.Background(), ev))
		require.Len(t, w.msgs, 1)
		assert.Equal(t, "an-1", string(w.msgs[0].Key))

		var got AnalysisEvent
		require.NoError(t, msgpack.Unmarshal(w.msgs[0].Value, &got))
		assert.Equal(t, "file-1", got.FileID)
		assert.Equal(t, "report.pdf", got.Filename)
		assert.True(t, at.Equal(got.AnalyzedAt))

		require.NoError(t, p.Close())
		assert.True(t, w.closed)
	})

	t.Run("write failure", func(t *testing.T) {
		p := &KafkaPublisher{w: &captureWriter{err: errors.New("broker down")}}
		err := p.Publish(context.Background(), ev)
		assert.ErrorContains(t, err, "publish analysis an-1: broker down")
	})
}

func TestNewKafkaPublisher(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "t")
	assert.Error(t, err)

	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "analyses")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), AnalysisEvent{}))
	assert.NoError(t, p.Close())
}
