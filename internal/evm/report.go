package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DefaultEvidenceURI is written into reports when none is configured.
const DefaultEvidenceURI = "Gemini Search Grounding"

// Report is the settlement payload written on-chain:
// (uint256 marketId, uint8 outcomeUint, uint16 confidenceBps, string evidenceURI).
type Report struct {
	MarketID      *big.Int
	Outcome       uint8
	ConfidenceBps uint16
	EvidenceURI   string
}

var reportArgs = mustReportArgs()

func mustReportArgs() abi.Arguments {
	mk := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("abi type %s: %v", t, err))
		}
		return typ
	}
	return abi.Arguments{
		{Name: "marketId", Type: mk("uint256")},
		{Name: "outcomeUint", Type: mk("uint8")},
		{Name: "confidenceBps", Type: mk("uint16")},
		{Name: "evidenceURI", Type: mk("string")},
	}
}

func (r Report) validate() error {
	if r.MarketID == nil || r.MarketID.Sign() < 0 || r.MarketID.Cmp(maxUint256) > 0 {
		return fmt.Errorf("report: market id %v is not a uint256", r.MarketID)
	}
	if r.Outcome < 1 || r.Outcome > 3 {
		return fmt.Errorf("report: outcome code %d outside 1..3", r.Outcome)
	}
	if r.ConfidenceBps > 10000 {
		return fmt.Errorf("report: confidence %d exceeds 10000 bps", r.ConfidenceBps)
	}
	return nil
}

// EncodeReport ABI-encodes r.
func EncodeReport(r Report) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	data, err := reportArgs.Pack(r.MarketID, r.Outcome, r.ConfidenceBps, r.EvidenceURI)
	if err != nil {
		return nil, fmt.Errorf("report: pack: %w", err)
	}
	return data, nil
}

// DecodeReport is the inverse of EncodeReport.
func DecodeReport(data []byte) (Report, error) {
	values, err := reportArgs.Unpack(data)
	if err != nil {
		return Report{}, fmt.Errorf("report: unpack: %w", err)
	}
	if len(values) != 4 {
		return Report{}, fmt.Errorf("report: expected 4 values, got %d", len(values))
	}

	var r Report
	var ok bool
	if r.MarketID, ok = values[0].(*big.Int); !ok {
		return Report{}, fmt.Errorf("report: marketId is %T", values[0])
	}
	if r.Outcome, ok = values[1].(uint8); !ok {
		return Report{}, fmt.Errorf("report: outcomeUint is %T", values[1])
	}
	if r.ConfidenceBps, ok = values[2].(uint16); !ok {
		return Report{}, fmt.Errorf("report: confidenceBps is %T", values[2])
	}
	if r.EvidenceURI, ok = values[3].(string); !ok {
		return Report{}, fmt.Errorf("report: evidenceURI is %T", values[3])
	}
	if err := r.validate(); err != nil {
		return Report{}, err
	}
	return r, nil
}
