package service

import (
	"testing"

	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/types"
	"github.com/stretchr/testify/require"
)

func TestChannelNotifierDropsWhenFull(t *testing.T) {
	n := NewChannelNotifier(2)

	// The third send exceeds the buffer and must drop without blocking.
	n.NotifyProgress(1, 10)
	n.NotifyProgress(2, 10)
	n.NotifyProgress(3, 10)

	require.Len(t, n.Messages(), 2)

	first := <-n.Messages()
	require.Equal(t, MessageProgress, first.Type)
	require.EqualValues(t, 1, first.Processed)
	require.EqualValues(t, 10, first.Total)

	second := <-n.Messages()
	require.EqualValues(t, 2, second.Processed)
	require.Empty(t, n.Messages())
}

func TestChannelNotifierNegativeBalanceMessage(t *testing.T) {
	n := NewChannelNotifier(1)

	n.NotifyNegativeBalance(
		&models.HistoryEvent{Identifier: 42, EventIdentifier: "GRP1"},
		models.BucketKey{
			Location: types.LocationEthereum,
			Protocol: "aave",
			Asset:    "DAI",
		},
	)

	msg := <-n.Messages()
	require.Equal(t, MessageNegativeBalance, msg.Type)
	require.EqualValues(t, 42, msg.EventIdentifier)
	require.Equal(t, "GRP1", msg.GroupIdentifier)
	require.Equal(t, "DAI", msg.Asset)
	require.Equal(t, "aave", msg.Protocol)
	require.Equal(t, string(types.LocationEthereum), msg.Location)
}
