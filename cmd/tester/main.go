// Command tester drives the engine in process: it creates rooms on a local
// backend, posts random commands and prints what every kind of sink receives.
package main

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"chat-sync/infrastructure/backend"
	"chat-sync/infrastructure/ratelimit"
	"chat-sync/infrastructure/storage"
	"chat-sync/moderation"
	"chat-sync/runtime"
	"chat-sync/runtime/workers"
	"chat-sync/services"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

var (
	users   = []string{"alice", "bob", "claire", "mallory"}
	phrases = []string{
		"hello everyone",
		"did you see the badger outside?",
		"this build is so stupid",
		"lunch at noon?",
		"je suis en retard, désolé",
	}
)

type roomStats struct {
	notified int
	streamed int
	pulled   int
	failures int
	rejected int
}

func main() {
	rooms := flag.Int("rooms", 2, "Number of rooms")
	commands := flag.Int("commands", 40, "Commands posted per room")
	period := flag.Duration("period", 100*time.Millisecond, "Poll period")
	level := flag.String("log", "WARN", "Log level")
	flag.Parse()

	if err := run(*rooms, *commands, *period, *level); err != nil {
		log.Fatal(err)
	}
}

func run(roomCount, commandCount int, period time.Duration, level string) error {
	logger := logs.GetLoggerFromString(level)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return err
	}
	defer db.Close()

	censored, err := moderation.DefaultLoader().LoadAll("censored")
	if err != nil {
		return err
	}
	moderator, err := moderation.NewModerator(censored.Words, '*', logger)
	if err != nil {
		return err
	}
	local := backend.NewLocalBackend(logger, storage.NewEventLogRepository(db, logger), moderator)
	limiter := ratelimit.NewKeyedLimiter(20*time.Millisecond, 2, 0)
	defer func() { _ = limiter.Close() }()

	sup := workers.NewSupervisor(logger, nil, 100*time.Millisecond)
	orchestrator := runtime.NewOrchestrator(logger,
		runtime.Settings{PollPeriod: period, FetchLimit: 5, MaxDrain: 3},
		local, local, services.NewCommandService(logger, local, limiter, time.Second, nil),
		runtime.NewMemoryCursorStore(), sup, nil, nil)
	go func() { _ = orchestrator.Start(ctx) }()
	defer func() {
		orchestrator.Stop()
		sup.Wait()
	}()

	var mu sync.Mutex
	stats := make(map[chat.RoomID]*roomStats)
	var roomIDs []chat.RoomID
	for i := 1; i <= roomCount; i++ {
		roomID := chat.RoomID("room-" + strconv.Itoa(i))
		roomIDs = append(roomIDs, roomID)
		stats[roomID] = &roomStats{}
		if err = local.CreateRoom(roomID); err != nil {
			return err
		}
		for _, u := range users {
			if _, err = orchestrator.JoinRoom(ctx, roomID, u); err != nil {
				return err
			}
		}

		rs := stats[roomID]
		orchestrator.SubscribeFunc(roomID, chat.NewFilter(chat.SpeechEvent), func(d chat.Delivery) {
			mu.Lock()
			defer mu.Unlock()
			if d.Failed() {
				rs.failures++
				fmt.Println(color.New(color.BgBlack, color.FgRed).Render(fmt.Sprintf("[%s] %v", d.RoomID, d.Err)))
				return
			}
			for _, e := range d.Events {
				rs.notified++
				style := color.New(color.FgGreen)
				if e.ModerationState == chat.ModerationPending {
					style = color.New(color.FgYellow)
				}
				fmt.Println(style.Render(fmt.Sprintf("[%s] %-8s %s", d.RoomID, e.AuthorUserID, e.Body)))
			}
		})
		_, stream := orchestrator.SubscribeStream(roomID, chat.AllEvents)
		go func() {
			for d := range stream.Deliveries() {
				mu.Lock()
				rs.streamed += len(d.Events)
				mu.Unlock()
			}
		}()
		_, pull := orchestrator.SubscribePull(roomID, chat.NewFilter(chat.ReactionEvent, chat.ReplyEvent))
		go func() {
			for d := range pull.All(ctx) {
				mu.Lock()
				rs.pulled += len(d.Events)
				mu.Unlock()
			}
		}()
		if err = orchestrator.StartPolling(ctx, roomID, period); err != nil {
			return err
		}
	}

	for i := 0; i < commandCount; i++ {
		for _, roomID := range roomIDs {
			_, err := orchestrator.ExecuteCommand(ctx, randomCommand(roomID, local))
			if err != nil {
				mu.Lock()
				stats[roomID].rejected++
				mu.Unlock()
				if !errors.IsKind(err, errors.KindRateLimited) {
					fmt.Println(color.New(color.FgMagenta).Render(err.Error()))
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(3 * period)

	printSummary(roomIDs, stats, &mu, orchestrator)
	return nil
}

// randomCommand mostly speaks, sometimes replies to or reacts on the last event
func randomCommand(roomID chat.RoomID, local *backend.LocalBackend) chat.Command {
	user := users[rand.IntN(len(users))]
	cmd := chat.Command{Room: roomID, UserID: user, Type: chat.SpeechEvent, Body: phrases[rand.IntN(len(phrases))]}
	batch, err := local.FetchUpdates(context.Background(), roomID, nil, 0)
	if err != nil || len(batch.Events) == 0 {
		return cmd
	}
	last := batch.Events[len(batch.Events)-1]
	switch rand.IntN(4) {
	case 0:
		cmd.Type = chat.ReplyEvent
		cmd.ReplyTo = last.ID
	case 1:
		cmd.Type = chat.ReactionEvent
		cmd.ReplyTo = last.ID
		cmd.ReactionType = "like"
		cmd.Body = ""
	}
	return cmd
}

func printSummary(roomIDs []chat.RoomID, stats map[chat.RoomID]*roomStats, mu *sync.Mutex, o *runtime.Orchestrator) {
	mu.Lock()
	defer mu.Unlock()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Room", "Cursor", "Speech", "All (latest)", "Replies+Reactions", "Failures", "Rejected"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, roomID := range roomIDs {
		rs := stats[roomID]
		cursor, _ := o.CurrentCursor(roomID)
		table.Append([]string{
			string(roomID),
			cursor.String(),
			strconv.Itoa(rs.notified),
			strconv.Itoa(rs.streamed),
			strconv.Itoa(rs.pulled),
			strconv.Itoa(rs.failures),
			strconv.Itoa(rs.rejected),
		})
	}
	table.Render()

	s := o.Stats()
	fmt.Println(color.New(color.BgBlack, color.FgCyan).Render(fmt.Sprintf(
		" fetches=%d deliveries=%d events=%d dropped=%d commands=%d/%d ",
		s.Fetches, s.Deliveries, s.EventsDelivered, s.DroppedDeliveries, s.CommandsExecuted, s.CommandsExecuted+s.CommandsRejected)))
}
