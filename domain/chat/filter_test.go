package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func batchOf(types ...EventType) []Event {
	events := make([]Event, 0, len(types))
	for i, t := range types {
		events = append(events, Event{ID: string(rune('a' + i)), Type: t})
	}
	return events
}

func TestFilter_Apply_KeepsOnlySpeechInOrder(t *testing.T) {
	req := require.New(t)
	events := batchOf(SpeechEvent, ReactionEvent, PurgeEvent, SpeechEvent)

	// When filtering on speech
	filtered := NewFilter(SpeechEvent).Apply(events)

	// Then only speech events are kept, order preserved
	req.Len(filtered, 2)
	req.Equal("a", filtered[0].ID)
	req.Equal("d", filtered[1].ID)
}

func TestFilter_Apply_AllExcludedYieldsEmptyNotNil(t *testing.T) {
	req := require.New(t)
	events := batchOf(ReactionEvent, PurgeEvent)

	filtered := NewFilter(SpeechEvent).Apply(events)

	req.NotNil(filtered)
	req.Empty(filtered)
}

func TestFilter_ZeroValueMatchesEverything(t *testing.T) {
	req := require.New(t)
	events := batchOf(SpeechEvent, ReactionEvent, CustomEvent)

	req.Len(AllEvents.Apply(events), 3)
	req.Equal("*", AllEvents.String())
}

func TestFilter_CustomTypes(t *testing.T) {
	req := require.New(t)
	filter := NewFilter(SpeechEvent).WithCustomTypes("goal")

	req.True(filter.Match(Event{Type: SpeechEvent}))
	req.True(filter.Match(Event{Type: CustomEvent, CustomType: "goal"}))
	req.False(filter.Match(Event{Type: CustomEvent, CustomType: "foul"}))
	req.False(filter.Match(Event{Type: ReactionEvent}))
	req.Equal("custom:goal,speech", filter.String())
}

func TestFilter_WithCustomTypes_DoesNotMutateOriginal(t *testing.T) {
	req := require.New(t)
	base := NewFilter(CustomEvent)
	_ = base.WithCustomTypes("goal")

	// The original still accepts any custom event
	req.True(base.Match(Event{Type: CustomEvent, CustomType: "foul"}))
}

func TestFilter_ApplyTo_FailedDeliveryPassesThrough(t *testing.T) {
	req := require.New(t)
	delivery := FailedDelivery("room-1", errBoom)

	filtered := NewFilter(SpeechEvent).ApplyTo(delivery)

	req.True(filtered.Failed())
	req.Nil(filtered.Events)
}

func TestFilter_ApplyTo_EmptyBatchStillDelivered(t *testing.T) {
	req := require.New(t)
	delivery := NewDelivery("room-1", Batch{Events: batchOf(PurgeEvent), NextCursor: "c2"})

	filtered := NewFilter(SpeechEvent).ApplyTo(delivery)

	req.False(filtered.Failed())
	req.NotNil(filtered.Events)
	req.Empty(filtered.Events)
	req.Equal(Cursor("c2"), filtered.NextCursor)
}
