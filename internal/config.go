package internal

import (
	"chat-sync/domain/chat"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	LogLevel             string        `env:"LOG_LEVEL,required=true"`
	PollPeriod           time.Duration `env:"POLL_PERIOD,required=true"`
	FetchTimeout         time.Duration `env:"FETCH_TIMEOUT,required=true"`
	FetchLimit           int           `env:"FETCH_LIMIT,required=true"`
	MaxDrain             int           `env:"MAX_DRAIN,default=10"`
	DegradedThreshold    int           `env:"DEGRADED_THRESHOLD,default=3"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,required=true"`
	PullBufferSize       int           `env:"PULL_BUFFER_SIZE,default=64"`
	BufferSize           int           `env:"BUFFER_SIZE,required=true"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,required=true"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,required=true"`
	LowCapacityThreshold int           `env:"LOW_CAPACITY_THRESHOLD,required=true"`
	CommandInterval      time.Duration `env:"COMMAND_INTERVAL,default=200ms"`
	CommandBurst         int           `env:"COMMAND_BURST,default=1"`
	CommandTimeout       time.Duration `env:"COMMAND_TIMEOUT,required=true"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath        string        `env:"BLUGE_FILEPATH,required=true"`
	PersistCursors       bool          `env:"PERSIST_CURSORS,default=true"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,required=true"`
	RoomIDs              string        `env:"ROOM_IDS,required=true"`
	UserID               string        `env:"USER_ID,default=syncd"`
	TimelineCapacity     int           `env:"TIMELINE_CAPACITY,default=500"`
	DebugHost            string        `env:"DEBUG_HOST,default=127.0.0.1"`
	DebugPort            int           `env:"DEBUG_PORT,default=0"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

// Rooms splits ROOM_IDS, a comma separated list
func (c Config) Rooms() []chat.RoomID {
	var rooms []chat.RoomID
	for _, part := range strings.Split(c.RoomIDs, ",") {
		if id := strings.TrimSpace(part); id != "" {
			rooms = append(rooms, chat.RoomID(id))
		}
	}
	return rooms
}

// DebugAddr is where the debug server listens, loopback unless DEBUG_HOST says otherwise
func (c Config) DebugAddr() string {
	return net.JoinHostPort(c.DebugHost, strconv.Itoa(c.DebugPort))
}
