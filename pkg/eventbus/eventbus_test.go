package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type reviewed struct {
	ID     string
	Status string
}

func TestPublishDeliversInOrder(t *testing.T) {
	topic := NewTopic[reviewed]("completion.reviewed")

	var got []string
	topic.Subscribe(func(ctx context.Context, e reviewed) error {
		got = append(got, "first:"+e.ID)
		return nil
	})
	topic.Subscribe(func(ctx context.Context, e reviewed) error {
		got = append(got, "second:"+e.Status)
		return nil
	})

	topic.Publish(context.Background(), reviewed{ID: "c1", Status: "approved"})
	require.Equal(t, []string{"first:c1", "second:approved"}, got)
}

func TestFailingSubscriberDoesNotStopDelivery(t *testing.T) {
	topic := NewTopic[reviewed]("completion.reviewed")

	calls := 0
	topic.Subscribe(func(ctx context.Context, e reviewed) error {
		calls++
		return errors.New("boom")
	})
	topic.Subscribe(func(ctx context.Context, e reviewed) error {
		calls++
		return nil
	})

	topic.Publish(context.Background(), reviewed{ID: "c1"})
	require.Equal(t, 2, calls)
}

func TestUnsubscribe(t *testing.T) {
	topic := NewTopic[int]("numbers")

	sum := 0
	unsubscribe := topic.Subscribe(func(ctx context.Context, n int) error {
		sum += n
		return nil
	})

	topic.Publish(context.Background(), 2)
	unsubscribe()
	topic.Publish(context.Background(), 3)

	require.Equal(t, 2, sum)
}
