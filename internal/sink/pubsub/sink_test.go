package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

type fakePublisher struct {
	msgs    []*pubsub.Message
	err     error
	stopped bool
}

func (f *fakePublisher) Publish(_ context.Context, msg *pubsub.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.msgs = append(f.msgs, msg)
	return "msg-1", nil
}

func (f *fakePublisher) Stop() {
	f.stopped = true
}

func TestWritePublishesRecord(t *testing.T) {
	t.Parallel()

	fake := &fakePublisher{}
	s := &Sink{pub: fake, runID: "run-1"}

	rec := record.Normalize(record.Raw{record.FieldName: "Bio Eck"}, "https://x.de/1", "80331")
	require.NoError(t, s.Write(context.Background(), rec))
	require.Len(t, fake.msgs, 1)

	msg := fake.msgs[0]
	require.Equal(t, "run-1", msg.Attributes["run_id"])
	require.Equal(t, "80331", msg.Attributes["postal_code"])
	require.Equal(t, "false", msg.Attributes["failed"])

	var decoded record.Record
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, rec, decoded)

	require.NoError(t, s.Close())
	require.True(t, fake.stopped)
}

func TestWriteReportsPublishError(t *testing.T) {
	t.Parallel()

	s := &Sink{pub: &fakePublisher{err: errors.New("unavailable")}}
	err := s.Write(context.Background(), record.ErrorRecord("https://x.de/1", "", nil))
	require.ErrorContains(t, err, "unavailable")
}

func TestNewRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "run")
	require.Error(t, err)
}

func TestCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
