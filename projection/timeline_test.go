package projection

import (
	"chat-sync/domain/chat"
	"context"
	"fmt"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func speech(id int, author string) chat.Event {
	return chat.Event{ID: fmt.Sprintf("evt-%d", id), RoomID: "room-1", Type: chat.SpeechEvent, AuthorUserID: author, Body: "hi"}
}

func deliver(events ...chat.Event) chat.Delivery {
	return chat.NewDelivery("room-1", chat.Batch{Events: events})
}

func ids(events []chat.Event) []string {
	return lo.Map(events, func(e chat.Event, _ int) string { return e.ID })
}

func TestTimeline_OrderAndDeduplication(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline(10)
	ctx := context.Background()

	// Given the same event delivered twice
	req.NoError(timeline.Consume(ctx, deliver(speech(1, "alice"), speech(2, "bob"))))
	req.NoError(timeline.Consume(ctx, deliver(speech(2, "bob"), speech(3, "alice"))))

	// Then it appears once, in delivery order
	req.Equal([]string{"evt-1", "evt-2", "evt-3"}, ids(timeline.Events("room-1")))
	req.Nil(timeline.Events("room-2"))
}

func TestTimeline_Capacity(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline(2)

	req.NoError(timeline.Consume(context.Background(), deliver(speech(1, "a"), speech(2, "a"), speech(3, "a"))))

	req.Equal([]string{"evt-2", "evt-3"}, ids(timeline.Events("room-1")))
}

func TestTimeline_ReactionUpdatesTarget(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline(10)
	ctx := context.Background()
	target := speech(1, "alice")
	req.NoError(timeline.Consume(ctx, deliver(target)))

	// When a reaction carrying the updated target arrives
	updated := target
	updated.Reactions = []chat.Reaction{{Type: "like", Count: 1, Users: []string{"bob"}}}
	reaction := chat.Event{ID: "evt-2", RoomID: "room-1", Type: chat.ReactionEvent, AuthorUserID: "bob", ReplyTo: &updated}
	req.NoError(timeline.Consume(ctx, deliver(reaction)))

	// Then the timeline holds the new snapshot
	events := timeline.Events("room-1")
	req.Len(events, 2)
	req.True(chat.IsReactedBy(events[0], "bob", "like"))
}

func TestTimeline_PurgeAndFailures(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline(10)
	ctx := context.Background()
	req.NoError(timeline.Consume(ctx, deliver(speech(1, "mallory"), speech(2, "alice"), speech(3, "mallory"))))

	purge := chat.Event{ID: "evt-4", RoomID: "room-1", Type: chat.PurgeEvent, Metadata: map[string]string{"purgedUserId": "mallory"}}
	req.NoError(timeline.Consume(ctx, deliver(purge)))
	req.NoError(timeline.Consume(ctx, chat.FailedDelivery("room-1", fmt.Errorf("boom"))))

	req.Equal([]string{"evt-2", "evt-4"}, ids(timeline.Events("room-1")))

	timeline.Forget("room-1")
	req.Nil(timeline.Events("room-1"))
}
