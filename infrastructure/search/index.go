// Package search keeps a full-text index of every delivered event.
package search

import (
	"chat-sync/domain/chat"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blugelabs/bluge"
)

const (
	fieldRoom   = "room"
	fieldType   = "type"
	fieldAuthor = "author"
	fieldBody   = "body"
	fieldLang   = "lang"
	fieldTs     = "ts"
)

type Hit struct {
	EventID   string
	RoomID    chat.RoomID
	Type      chat.EventType
	Author    string
	Body      string
	Timestamp time.Time
	Score     float64
}

// Query narrows a search to one room, one language or both.
// Text is matched against event bodies.
type Query struct {
	Text   string
	RoomID chat.RoomID
	Lang   string
	Limit  int
}

// EventIndex is a permanent sink writing delivered events into bluge
type EventIndex struct {
	log    *slog.Logger
	writer *bluge.Writer
}

func NewEventIndex(writer *bluge.Writer, log *slog.Logger) *EventIndex {
	return &EventIndex{log: log, writer: writer}
}

// Consume indexes every event carrying a body. Failed deliveries are ignored.
func (i *EventIndex) Consume(ctx context.Context, d chat.Delivery) error {
	if d.Failed() || len(d.Events) == 0 {
		return nil
	}
	batch := bluge.NewBatch()
	count := 0
	for _, e := range d.Events {
		if e.Body == "" {
			continue
		}
		doc := toDocument(e)
		batch.Update(doc.ID(), doc)
		count++
	}
	if count == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := i.writer.Batch(batch); err != nil {
		i.log.Error("Unable to index events", "room_id", d.RoomID, "error", err)
		return fmt.Errorf("index %d events of room %s: %w", count, d.RoomID, err)
	}
	return nil
}

func toDocument(e chat.Event) *bluge.Document {
	doc := bluge.NewDocument(e.ID).
		AddField(bluge.NewKeywordField(fieldRoom, string(e.RoomID)).StoreValue()).
		AddField(bluge.NewKeywordField(fieldType, string(e.Type)).StoreValue()).
		AddField(bluge.NewKeywordField(fieldAuthor, e.AuthorUserID).StoreValue()).
		AddField(bluge.NewTextField(fieldBody, e.Body).StoreValue()).
		AddField(bluge.NewDateTimeField(fieldTs, e.Timestamp).StoreValue().Sortable())
	if lang, ok := e.Metadata["lang"]; ok {
		doc.AddField(bluge.NewKeywordField(fieldLang, lang).StoreValue())
	}
	return doc
}

// Search returns the best matching events, most relevant first
func (i *EventIndex) Search(ctx context.Context, q Query) ([]Hit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	query := bluge.NewBooleanQuery()
	if q.Text != "" {
		query.AddMust(bluge.NewMatchQuery(q.Text).SetField(fieldBody))
	} else {
		query.AddMust(bluge.NewMatchAllQuery())
	}
	if q.RoomID != "" {
		query.AddMust(bluge.NewTermQuery(string(q.RoomID)).SetField(fieldRoom))
	}
	if q.Lang != "" {
		query.AddMust(bluge.NewTermQuery(q.Lang).SetField(fieldLang))
	}

	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("Unable to close index reader", "error", err)
		}
	}()

	matches, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var hits []Hit
	match, err := matches.Next()
	for err == nil && match != nil {
		hit := Hit{Score: match.Score}
		var visitErr error
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.EventID = string(value)
			case fieldRoom:
				hit.RoomID = chat.RoomID(value)
			case fieldType:
				hit.Type = chat.EventType(value)
			case fieldAuthor:
				hit.Author = string(value)
			case fieldBody:
				hit.Body = string(value)
			case fieldTs:
				hit.Timestamp, visitErr = bluge.DecodeDateTime(value)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if visitErr != nil {
			return nil, visitErr
		}
		hits = append(hits, hit)
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (i *EventIndex) Close() error {
	return i.writer.Close()
}
