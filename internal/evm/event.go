package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// SettlementRequestedSignature is the canonical event signature.
const SettlementRequestedSignature = "SettlementRequested(uint256,string)"

// SettlementRequestedTopic is topic0 of every SettlementRequested log.
var SettlementRequestedTopic = crypto.Keccak256Hash([]byte(SettlementRequestedSignature))

const marketABI = `[{
	"type": "event",
	"name": "SettlementRequested",
	"anonymous": false,
	"inputs": [
		{"name": "marketId", "type": "uint256", "indexed": true},
		{"name": "question", "type": "string", "indexed": false}
	]
}]`

var settlementEvent = mustEvent()

func mustEvent() abi.Event {
	parsed, err := abi.JSON(strings.NewReader(marketABI))
	if err != nil {
		panic(fmt.Sprintf("parse market abi: %v", err))
	}
	ev, ok := parsed.Events["SettlementRequested"]
	if !ok {
		panic("market abi: SettlementRequested missing")
	}
	return ev
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ErrMalformedLog is wrapped by every trigger decode failure.
var ErrMalformedLog = errors.New("malformed SettlementRequested log")

// SettlementRequested is a decoded trigger.
type SettlementRequested struct {
	Contract    common.Address
	MarketID    *big.Int
	Question    string
	TxHash      common.Hash
	BlockNumber uint64
}

// DecodeSettlementRequested decodes a trigger log. Topic count, topic0 and
// the ABI-encoded question are all checked; removed (reorged) logs are
// rejected.
func DecodeSettlementRequested(log types.Log) (*SettlementRequested, error) {
	if log.Removed {
		return nil, fmt.Errorf("%w: log was removed by a reorg", ErrMalformedLog)
	}
	if len(log.Topics) != 2 {
		return nil, fmt.Errorf("%w: expected 2 topics, got %d", ErrMalformedLog, len(log.Topics))
	}
	if log.Topics[0] != SettlementRequestedTopic {
		return nil, fmt.Errorf("%w: unexpected topic0 %s", ErrMalformedLog, log.Topics[0].Hex())
	}

	values, err := settlementEvent.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedLog, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: expected 1 data value, got %d", ErrMalformedLog, len(values))
	}
	question, ok := values[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: question is %T", ErrMalformedLog, values[0])
	}

	return &SettlementRequested{
		Contract:    log.Address,
		MarketID:    log.Topics[1].Big(),
		Question:    question,
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
	}, nil
}

// EncodeSettlementRequested builds the log a contract at addr would emit.
func EncodeSettlementRequested(addr common.Address, marketID *big.Int, question string) (types.Log, error) {
	if marketID == nil || marketID.Sign() < 0 || marketID.Cmp(maxUint256) > 0 {
		return types.Log{}, fmt.Errorf("market id %v is not a uint256", marketID)
	}
	data, err := settlementEvent.Inputs.NonIndexed().Pack(question)
	if err != nil {
		return types.Log{}, fmt.Errorf("pack question: %w", err)
	}
	return types.Log{
		Address: addr,
		Topics:  []common.Hash{SettlementRequestedTopic, common.BigToHash(marketID)},
		Data:    data,
	}, nil
}
