// Package testutil holds helpers shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/evm"
)

// Contract is the settlement contract used throughout the tests (the first
// address a local dev chain deploys to).
var Contract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// RainQuestion is the canonical example market question.
const RainQuestion = "Will it rain in New York tomorrow?"

// QuietLogger discards all output.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Config returns a valid configuration pointing at Contract on Sepolia.
func Config() config.Config {
	cfg := config.Config{
		GeminiModel:     "gemini-2.0-flash",
		ContractAddress: Contract.Hex(),
		ChainName:       "ethereum-testnet-sepolia",
	}
	cfg.ApplyDefaults()
	return cfg
}

// TriggerLog synthesizes a SettlementRequested log emitted by Contract.
func TriggerLog(t testing.TB, marketID int64, question string) types.Log {
	t.Helper()
	log, err := evm.EncodeSettlementRequested(Contract, big.NewInt(marketID), question)
	require.NoError(t, err)
	return log
}
