package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func TestSettlementRequestedTopic(t *testing.T) {
	assert.Equal(t, crypto.Keccak256Hash([]byte("SettlementRequested(uint256,string)")), SettlementRequestedTopic)
}

func TestSettlementRequestedRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		marketID *big.Int
		question string
	}{
		{"scenario", big.NewInt(1), "Will it rain in New York tomorrow?"},
		{"zero id", big.NewInt(0), "q"},
		{"empty question", big.NewInt(42), ""},
		{"max id", new(big.Int).Set(maxUint256), "unicode: ☂️ 雨"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := EncodeSettlementRequested(testContract, tt.marketID, tt.question)
			require.NoError(t, err)

			ev, err := DecodeSettlementRequested(log)
			require.NoError(t, err)
			assert.Equal(t, 0, tt.marketID.Cmp(ev.MarketID))
			assert.Equal(t, tt.question, ev.Question)
			assert.Equal(t, testContract, ev.Contract)
		})
	}
}

func TestEncodeSettlementRequestedRejectsBadIDs(t *testing.T) {
	_, err := EncodeSettlementRequested(testContract, big.NewInt(-1), "q")
	assert.Error(t, err)
	_, err = EncodeSettlementRequested(testContract, nil, "q")
	assert.Error(t, err)
	_, err = EncodeSettlementRequested(testContract, new(big.Int).Add(maxUint256, big.NewInt(1)), "q")
	assert.Error(t, err)
}

func TestDecodeSettlementRequestedMalformed(t *testing.T) {
	good, err := EncodeSettlementRequested(testContract, big.NewInt(1), "Will it rain?")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(l *types.Log)
	}{
		{"no topics", func(l *types.Log) { l.Topics = nil }},
		{"missing market id", func(l *types.Log) { l.Topics = l.Topics[:1] }},
		{"extra topic", func(l *types.Log) { l.Topics = append(l.Topics, common.Hash{}) }},
		{"wrong topic0", func(l *types.Log) { l.Topics[0] = crypto.Keccak256Hash([]byte("Other()")) }},
		{"empty data", func(l *types.Log) { l.Data = nil }},
		{"truncated data", func(l *types.Log) { l.Data = l.Data[:40] }},
		{"removed", func(l *types.Log) { l.Removed = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := good
			l.Topics = append([]common.Hash(nil), good.Topics...)
			l.Data = append([]byte(nil), good.Data...)
			tt.mutate(&l)

			_, err := DecodeSettlementRequested(l)
			assert.ErrorIs(t, err, ErrMalformedLog)
		})
	}
}
