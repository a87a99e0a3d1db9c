package chat

import "time"

// Batch is one fetch worth of new events, in chronological order.
// HasMore signals that the fetcher holds undelivered events beyond NextCursor.
type Batch struct {
	Events     []Event
	NextCursor Cursor
	HasMore    bool
}

// Delivery is what sinks receive: either a (possibly filtered) batch or a
// classified fetch failure for the room.
type Delivery struct {
	RoomID     RoomID
	Events     []Event
	NextCursor Cursor
	HasMore    bool
	Err        error
	At         time.Time
}

func NewDelivery(roomID RoomID, batch Batch) Delivery {
	events := batch.Events
	if events == nil {
		events = []Event{}
	}
	return Delivery{
		RoomID:     roomID,
		Events:     events,
		NextCursor: batch.NextCursor,
		HasMore:    batch.HasMore,
		At:         time.Now().UTC(),
	}
}

func FailedDelivery(roomID RoomID, err error) Delivery {
	return Delivery{RoomID: roomID, Err: err, At: time.Now().UTC()}
}

func (d Delivery) Failed() bool {
	return d.Err != nil
}
