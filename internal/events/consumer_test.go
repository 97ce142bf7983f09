package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/olx-listing-scraper/internal/database"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	return m.Called(ctx, stream, group, start).Get(0).(*redis.StatusCmd)
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	return m.Called(ctx, a).Get(0).(*redis.XStreamSliceCmd)
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	return m.Called(ctx, stream, group, ids).Get(0).(*redis.IntCmd)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listingMessage(id, siteID string) redis.XMessage {
	return redis.XMessage{
		ID: id,
		Values: map[string]any{
			"event_type":   database.EventListingSaved,
			"aggregate_id": siteID,
			"data": `{"id":"evt-` + id + `","type":"LISTING_SAVED","payload":{"site_id":"` + siteID +
				`","product_id":7,"seller_id":3,"title":"Велосипед","product_url":"https://www.olx.ua/d/x.html","delivery":true}}`,
		},
	}
}

func TestDecode(t *testing.T) {
	ev, err := Decode(listingMessage("1-0", "84213772"))
	require.NoError(t, err)
	assert.Equal(t, "1-0", ev.MessageID)
	assert.Equal(t, "evt-1-0", ev.EventID)
	assert.Equal(t, "84213772", ev.Payload.SiteID)
	assert.Equal(t, int64(7), ev.Payload.ProductID)
	require.NotNil(t, ev.Payload.Title)
	assert.Equal(t, "Велосипед", *ev.Payload.Title)
	assert.True(t, ev.Payload.Delivery)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		other  bool
	}{
		{name: "other event type", values: map[string]any{"event_type": "PRICE_CHANGED"}, other: true},
		{name: "missing data", values: map[string]any{"event_type": database.EventListingSaved}},
		{name: "bad json", values: map[string]any{"event_type": database.EventListingSaved, "data": "{"}},
		{name: "no site id", values: map[string]any{"event_type": database.EventListingSaved, "data": `{"payload":{}}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(redis.XMessage{ID: "1-0", Values: tt.values})
			require.Error(t, err)
			assert.Equal(t, tt.other, errors.Is(err, errOtherEvent))
		})
	}
}

func TestConsumer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := new(MockStreamClient)
	client.On("XGroupCreateMkStream", mock.Anything, database.ListingStream, "listing-consumer-group", "0").
		Return(redis.NewStatusResult("", errors.New("BUSYGROUP Consumer Group name already exists")))

	batch := []redis.XStream{{
		Stream: database.ListingStream,
		Messages: []redis.XMessage{
			listingMessage("1-0", "100"),
			listingMessage("2-0", "200"),
			{ID: "3-0", Values: map[string]any{"event_type": "OTHER"}},
			{ID: "4-0", Values: map[string]any{"event_type": database.EventListingSaved, "data": "{"}},
		},
	}}
	client.On("XReadGroup", mock.Anything, mock.Anything).
		Return(redis.NewXStreamSliceCmdResult(batch, nil)).Once()
	client.On("XReadGroup", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(redis.NewXStreamSliceCmdResult(nil, redis.Nil))

	client.On("XAck", mock.Anything, database.ListingStream, "listing-consumer-group", mock.Anything).
		Return(redis.NewIntResult(1, nil))

	var handled []string
	handler := func(_ context.Context, ev ListingSaved) error {
		handled = append(handled, ev.Payload.SiteID)
		if ev.Payload.SiteID == "200" {
			return errors.New("downstream unavailable")
		}
		return nil
	}

	c := NewConsumer(client, ConsumerConfig{Block: 10 * time.Millisecond}, handler, testLogger())
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"100", "200"}, handled)
	client.AssertCalled(t, "XAck", mock.Anything, database.ListingStream, "listing-consumer-group", []string{"1-0"})
	client.AssertCalled(t, "XAck", mock.Anything, database.ListingStream, "listing-consumer-group", []string{"3-0"})
	client.AssertNotCalled(t, "XAck", mock.Anything, database.ListingStream, "listing-consumer-group", []string{"2-0"})
	client.AssertNotCalled(t, "XAck", mock.Anything, database.ListingStream, "listing-consumer-group", []string{"4-0"})

	args := client.Calls[1].Arguments.Get(1).(*redis.XReadGroupArgs)
	assert.Equal(t, []string{database.ListingStream, ">"}, args.Streams)
	assert.Equal(t, int64(10), args.Count)
}

func TestConsumer_GroupCreateFailure(t *testing.T) {
	client := new(MockStreamClient)
	client.On("XGroupCreateMkStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(redis.NewStatusResult("", errors.New("connection refused")))

	c := NewConsumer(client, ConsumerConfig{}, func(context.Context, ListingSaved) error { return nil }, testLogger())
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer group")
}
