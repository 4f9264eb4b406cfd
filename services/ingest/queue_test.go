package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PublishSubscribeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(nil)
	defer q.Close()

	messages, err := q.Subscribe(ctx)
	require.NoError(t, err)

	want := IngestJob{FilePath: "/data/uploads/q3.md", Filename: "q3.md", TaskID: "task-42"}
	require.NoError(t, q.Publish(ctx, want))

	select {
	case msg := <-messages:
		got, err := DecodeJob(msg)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestDecodeJob_MalformedPayload(t *testing.T) {
	msg := message.NewMessage(watermill.NewUUID(), []byte("not json"))

	_, err := DecodeJob(msg)
	require.Error(t, err)
}

func TestDecodeJob_MissingFilename(t *testing.T) {
	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"file_path":"/tmp/x"}`))

	_, err := DecodeJob(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no filename")
}
