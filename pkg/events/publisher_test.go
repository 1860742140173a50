package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"

	"github.com/example/seatlite/internal/booking/domain"
	"github.com/example/seatlite/pkg/events"
)

func TestNilConnectionIsNoOp(t *testing.T) {
	publisher := events.NewPublisher(nil, "")
	err := publisher.Publish(context.Background(), domain.Event{Type: domain.EventBookingInitiated})
	require.NoError(t, err)
}

func TestPublishDeliversEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	container, err := natscontainer.Run(ctx, "nats:2")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Drain() })

	msgCh := make(chan *nats.Msg, 1)
	_, err = nc.Subscribe(events.DefaultSubject, func(msg *nats.Msg) {
		msgCh <- msg
	})
	require.NoError(t, err)

	publisher := events.NewPublisher(nc, "")
	event := domain.Event{
		Type:             domain.EventBookingConfirmed,
		BookingReference: "BOOK01",
		TripReference:    "TRIP0001",
		Seats:            []string{"1", "2"},
		At:               time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, publisher.Publish(ctx, event))

	select {
	case <-time.After(10 * time.Second):
		t.Fatal("expected booking event")
	case msg := <-msgCh:
		require.Equal(t, string(domain.EventBookingConfirmed), msg.Header.Get("x-event-type"))
		var got domain.Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		require.Equal(t, event, got)
	}
}
