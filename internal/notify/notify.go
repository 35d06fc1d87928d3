// Package notify delivers messages and archive snapshots to the chat platform
// or an event stream. Delivery is best effort: callers log failures and move
// on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/notify/config"
)

// Target is a channel on some server.
type Target struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id"`
}

func OriginTarget(origin model.Origin) Target {
	return Target{GuildID: origin.GuildID, ChannelID: origin.ChannelID}
}

type Message struct {
	Kind      string `json:"kind"`
	Mention   string `json:"mention,omitempty"`
	Broadcast bool   `json:"broadcast,omitempty"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Image     string `json:"image,omitempty"`
}

// Snapshot is the archive rendering of an order.
type Snapshot struct {
	OrderID      string    `json:"order_id"`
	Status       string    `json:"status"`
	Item         string    `json:"item"`
	RequesterID  string    `json:"requester_id"`
	GuildID      string    `json:"guild_id"`
	PreparerID   string    `json:"preparer_id,omitempty"`
	PreparerName string    `json:"preparer_name,omitempty"`
	FulfillerID  string    `json:"fulfiller_id,omitempty"`
	Priority     bool      `json:"priority"`
	Discounted   bool      `json:"discounted"`
	Rating       int       `json:"rating,omitempty"`
	Proof        []string  `json:"proof,omitempty"`
	RenderedAt   time.Time `json:"rendered_at"`
}

func NewSnapshot(order model.Order, at time.Time) Snapshot {
	return Snapshot{
		OrderID:      order.ID,
		Status:       string(order.Status),
		Item:         order.Item,
		RequesterID:  order.RequesterID,
		GuildID:      order.Origin.GuildID,
		PreparerID:   order.PreparerID,
		PreparerName: order.PreparerName,
		FulfillerID:  order.FulfillerID,
		Priority:     order.Priority,
		Discounted:   order.Discounted,
		Rating:       order.Rating,
		Proof:        append([]string(nil), order.Proof...),
		RenderedAt:   at,
	}
}

type Sink interface {
	Post(ctx context.Context, target Target, msg Message) error
	// EditOrCreateLogEntry updates the entry behind handle, or creates one
	// when handle is empty. It returns the handle now holding the snapshot.
	EditOrCreateLogEntry(ctx context.Context, handle string, snap Snapshot) (string, error)
}

// ErrEntryNotFound means the referenced log entry is gone and a new one
// should be created.
var ErrEntryNotFound = errors.New("log entry not found")

func New(cfg config.Config, zaplog *zap.Logger) (Sink, error) {
	switch cfg.Sink {
	case "", "log":
		return NewLogSink(zaplog), nil
	case "webhook":
		return NewWebhook(cfg), nil
	case "kafka":
		return NewKafka(cfg)
	default:
		return nil, fmt.Errorf("unknown notification sink %q", cfg.Sink)
	}
}
