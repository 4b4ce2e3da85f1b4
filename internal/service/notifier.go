package service

import (
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/models"
)

// Message is one notification emitted by the balance processor.
type Message struct {
	Type            string `json:"type"`
	Processed       int64  `json:"processed,omitempty"`
	Total           int64  `json:"total,omitempty"`
	EventIdentifier int64  `json:"event_identifier,omitempty"`
	GroupIdentifier string `json:"group_identifier,omitempty"`
	Asset           string `json:"asset,omitempty"`
	Protocol        string `json:"protocol,omitempty"`
	Location        string `json:"location,omitempty"`
}

const (
	MessageProgress        = "progress"
	MessageNegativeBalance = "negative_balance"
)

// ChannelNotifier delivers messages to a buffered channel, dropping when
// the consumer falls behind. Progress is advisory; losing a message must
// never block processing.
type ChannelNotifier struct {
	ch chan Message
}

// NewChannelNotifier creates a notifier with the given buffer size.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan Message, buffer)}
}

// Messages returns the receive side of the notifier.
func (n *ChannelNotifier) Messages() <-chan Message {
	return n.ch
}

func (n *ChannelNotifier) send(msg Message) {
	select {
	case n.ch <- msg:
	default:
		logging.WithField("type", msg.Type).Debug("Dropping notification, consumer is behind")
	}
}

// NotifyProgress implements Notifier.
func (n *ChannelNotifier) NotifyProgress(processed, total int64) {
	n.send(Message{Type: MessageProgress, Processed: processed, Total: total})
}

// NotifyNegativeBalance implements Notifier.
func (n *ChannelNotifier) NotifyNegativeBalance(event *models.HistoryEvent, bucket models.BucketKey) {
	n.send(Message{
		Type:            MessageNegativeBalance,
		EventIdentifier: event.Identifier,
		GroupIdentifier: event.EventIdentifier,
		Asset:           bucket.Asset,
		Protocol:        bucket.Protocol,
		Location:        string(bucket.Location),
	})
}

// LogNotifier writes notifications to the structured log. Used by the
// one-shot aggregation binary where nothing consumes a channel.
type LogNotifier struct{}

// NotifyProgress implements Notifier.
func (LogNotifier) NotifyProgress(processed, total int64) {
	logging.WithFields(map[string]interface{}{
		"processed": processed,
		"total":     total,
	}).Info("Balance processing progress")
}

// NotifyNegativeBalance implements Notifier.
func (LogNotifier) NotifyNegativeBalance(event *models.HistoryEvent, bucket models.BucketKey) {
	logging.WithFields(map[string]interface{}{
		"event_identifier": event.Identifier,
		"group_identifier": event.EventIdentifier,
		"asset":            bucket.Asset,
		"protocol":         bucket.Protocol,
		"location":         string(bucket.Location),
	}).Error("Negative balance detected")
}
