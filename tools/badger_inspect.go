package main

import (
	"chat-sync/domain/chat"
	"chat-sync/infrastructure/storage"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	prefix := flag.String("prefix", "evt:", "Prefix to scan (evt:, cursor:, room:, seq:, idx:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Kind", "Author", "Moderation", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(v []byte) error {
				table.Append(toRow(key, v))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

// toRow decodes the value according to the key family, undecodable values are shown raw
func toRow(key string, v []byte) []string {
	switch {
	case strings.HasPrefix(key, "cursor:"):
		var c wrapperspb.StringValue
		if err := proto.Unmarshal(v, &c); err != nil {
			return raw(key, v)
		}
		return []string{key, "CURSOR", "", "", c.GetValue()}
	case strings.HasPrefix(key, "evt:"):
		var e chat.Event
		if err := json.Unmarshal(v, &e); err != nil {
			return raw(key, v)
		}
		detail := e.Body
		if e.ReplyTo != nil {
			detail = fmt.Sprintf("%s -> %s", detail, e.ReplyTo.ID)
		}
		return []string{key, strings.ToUpper(string(e.Type)), e.AuthorUserID, string(e.ModerationState), truncate(detail)}
	case strings.HasPrefix(key, "room:"):
		var r storage.RoomRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return raw(key, v)
		}
		state := "CLOSED"
		if r.Open {
			state = "OPEN"
		}
		return []string{key, "ROOM", "", "", fmt.Sprintf("%s members=%s", state, strings.Join(r.Members, ","))}
	default:
		return raw(key, v)
	}
}

func raw(key string, v []byte) []string {
	return []string{key, "RAW", "", "", truncate(string(v))}
}

func truncate(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil {
		// A crashed daemon leaves a log that must be truncated by a writable open first
		if strings.Contains(err.Error(), "Log truncate required") {
			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)

			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}
			_ = db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}
