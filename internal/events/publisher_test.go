package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libradesk/internal/domain"
)

func TestNewEvent(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "req-42")

	at := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.FixedZone("EET", 2*60*60))
	e := NewEvent(ctx, EventTypeLoanIssued, map[string]interface{}{"transaction_id": "t1"}, at)

	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, EventTypeLoanIssued, e.EventType)
	assert.Equal(t, "1.0.0", e.EventVersion)
	assert.Equal(t, "req-42", e.CorrelationID)
	assert.Equal(t, "2024-03-01T07:00:00Z", e.Timestamp)
}

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, EventTypeLoanIssued, nil))
	require.NoError(t, p.Publish(ctx, EventTypeLoanReturned, nil))
	require.NoError(t, p.Publish(ctx, EventTypeLoanIssued, nil))

	assert.Len(t, p.Events(""), 3)
	assert.Len(t, p.Events(EventTypeLoanIssued), 2)

	p.Err = errors.New("broker down")
	assert.Error(t, p.Publish(ctx, EventTypeLoanOverdue, nil))
	assert.Empty(t, p.Events(EventTypeLoanOverdue))
}

func TestMemoryPublisher_UsesClock(t *testing.T) {
	clock := domain.NewFakeClock(time.Date(2031, time.July, 4, 12, 30, 0, 0, time.UTC))
	p := &MemoryPublisher{Clock: clock}

	require.NoError(t, p.Publish(context.Background(), EventTypeLoanReturned, nil))
	clock.Advance(time.Hour)
	require.NoError(t, p.Publish(context.Background(), EventTypeLoanReturned, nil))

	got := p.Events(EventTypeLoanReturned)
	require.Len(t, got, 2)
	assert.Equal(t, "2031-07-04T12:30:00Z", got[0].Timestamp)
	assert.Equal(t, "2031-07-04T13:30:00Z", got[1].Timestamp)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), EventTypeLoanIssued, nil))
	assert.NoError(t, p.Close())
}
