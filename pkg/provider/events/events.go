// Package events defines the observation side-channel for a serving session.
// A Sink is injected into the accept loop and connection handler; swapping
// the sink never touches core logic.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("provider/events")

// Kind classifies an event.
type Kind int

const (
	// ConnectionAccepted fires when a peer connection is handed to a handler.
	ConnectionAccepted Kind = iota
	// RequestReceived fires when a peer's request has been decoded.
	RequestReceived
	// TransferCompleted fires when a peer received everything it asked for.
	TransferCompleted
	// TransferFailed fires when serving a peer was aborted by an error.
	TransferFailed
)

func (k Kind) String() string {
	switch k {
	case ConnectionAccepted:
		return "connection accepted"
	case RequestReceived:
		return "request received"
	case TransferCompleted:
		return "transfer completed"
	case TransferFailed:
		return "transfer failed"
	default:
		return "unknown"
	}
}

// Event is one observation from the serving loop.
type Event struct {
	Kind Kind
	// Conn identifies the connection the event belongs to.
	Conn uuid.UUID
	// Root is the requested identity, when known.
	Root cid.Cid
	// Err is set for TransferFailed.
	Err error
	At  time.Time
}

// Sink observes events from the serving loop.
type Sink interface {
	Observe(ev Event)
}

// LogSink writes events to the package logger.
type LogSink struct{}

func (LogSink) Observe(ev Event) {
	if ev.Err != nil {
		log.Errorf("%s conn=%s root=%s: %s", ev.Kind, ev.Conn, ev.Root, ev.Err)
		return
	}
	log.Infof("%s conn=%s root=%s", ev.Kind, ev.Conn, ev.Root)
}

// Discard drops all events.
type Discard struct{}

func (Discard) Observe(Event) {}
