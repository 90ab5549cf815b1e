package cli

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"

	"github.com/roach88/verdict/internal/evm"
)

// EventOptions holds flags for the event command.
type EventOptions struct {
	*RootOptions
	Contract string
	MarketID string
	Question string
}

// NewEventCommand creates the event command.
func NewEventCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "event",
		Short: "Print a synthesized SettlementRequested log",
		Long: `Print a SettlementRequested(uint256 indexed marketId, string question)
log as JSON, in the format settle --log reads.

Example:
  verdict event --contract 0x5FbDB2315678afecb367f032d93F642f64180aa3 \
    --market-id 1 --question "Will it rain in New York tomorrow?" > trigger.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := synthesizeTrigger(opts.Contract, opts.MarketID, opts.Question)
			if err != nil {
				return WrapExitError(ExitCommandError, "synthesize trigger", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(log)
		},
	}

	cmd.Flags().StringVar(&opts.Contract, "contract", "", "emitting contract address (required)")
	cmd.Flags().StringVar(&opts.MarketID, "market-id", "1", "market id (decimal uint256)")
	cmd.Flags().StringVar(&opts.Question, "question", "", "market question (required)")
	_ = cmd.MarkFlagRequired("contract")
	_ = cmd.MarkFlagRequired("question")

	return cmd
}

func synthesizeTrigger(contract, marketID, question string) (types.Log, error) {
	if !common.IsHexAddress(contract) {
		return types.Log{}, fmt.Errorf("invalid contract address %q", contract)
	}
	id, ok := new(big.Int).SetString(marketID, 10)
	if !ok {
		return types.Log{}, fmt.Errorf("invalid market id %q", marketID)
	}
	return evm.EncodeSettlementRequested(common.HexToAddress(contract), id, question)
}

// readTrigger loads a JSON log as printed by the event command or an RPC
// eth_getLogs response entry.
func readTrigger(path string) (types.Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Log{}, fmt.Errorf("read trigger: %w", err)
	}
	var log types.Log
	if err := json.Unmarshal(data, &log); err != nil {
		return types.Log{}, fmt.Errorf("parse trigger %s: %w", path, err)
	}
	return log, nil
}
