package evm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/envelope"
	"github.com/roach88/verdict/internal/ir"
	"github.com/roach88/verdict/internal/store"
)

// TxStatusSuccess is reported for every accepted write.
const TxStatusSuccess = "SUCCESS"

// Ledger records chain writes. RecordSubmission returns the stored row; when
// the report digest was already present that is the earlier row and
// inserted is false.
type Ledger interface {
	RecordSubmission(ctx context.Context, sub store.Submission) (stored store.Submission, inserted bool, err error)
}

// JournalWriter is the chain-write capability.
type JournalWriter struct {
	chainSelector uint64
	ledger        Ledger
	signers       []common.Address
	logger        *slog.Logger
}

// WriterOption configures a JournalWriter.
type WriterOption func(*JournalWriter)

// WithLedger records every write. Without a ledger writes are not deduplicated.
func WithLedger(l Ledger) WriterOption {
	return func(w *JournalWriter) { w.ledger = l }
}

// WithTrustedSigners requires at least one signature from signers.
func WithTrustedSigners(signers ...common.Address) WriterOption {
	return func(w *JournalWriter) { w.signers = signers }
}

// WithWriterLogger sets the logger. Defaults to slog.Default().
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *JournalWriter) { w.logger = l }
}

// NewJournalWriter creates a chain writer for chainSelector.
func NewJournalWriter(chainSelector uint64, opts ...WriterOption) *JournalWriter {
	w := &JournalWriter{chainSelector: chainSelector, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handler exposes the writer as a capability.
func (w *JournalWriter) Handler() capability.Handler {
	return capability.Methods{capability.MethodWriteReport: w.writeReport}
}

// ReportDigest identifies a signed report independent of its signatures.
func ReportDigest(report *envelope.ReportResponse) string {
	data := make([]byte, 0, len(report.RawReport)+len(report.ReportContext))
	data = append(data, report.RawReport...)
	data = append(data, report.ReportContext...)
	return ir.HexDigest(ir.DomainReport, data)
}

// TxHash derives the transaction hash recorded for a write.
func TxHash(receiver common.Address, report *envelope.ReportResponse) common.Hash {
	parts := [][]byte{receiver.Bytes(), report.RawReport}
	for _, sig := range report.Sigs {
		parts = append(parts, sig)
	}
	return crypto.Keccak256Hash(parts...)
}

func (w *JournalWriter) writeReport(ctx context.Context, req capability.Request) (envelope.Message, error) {
	in, err := capability.DecodeRequest[*envelope.WriteReportRequest](req)
	if err != nil {
		return nil, err
	}
	bad := func(format string, args ...any) error {
		return &capability.CapabilityError{Code: capability.CodeBadRequest, Target: req.TargetID, Message: fmt.Sprintf(format, args...)}
	}

	if !common.IsHexAddress(in.Receiver) {
		return nil, bad("receiver %q is not an address", in.Receiver)
	}
	if in.GasLimit <= 0 {
		return nil, bad("gas limit must be positive, got %d", in.GasLimit)
	}
	if len(in.Report.RawReport) == 0 {
		return nil, bad("report has no payload")
	}
	if len(in.Report.Sigs) == 0 {
		return nil, bad("report is unsigned")
	}
	if len(w.signers) > 0 {
		if err := w.checkSigners(&in.Report); err != nil {
			return nil, bad("%v", err)
		}
	}

	receiver := common.HexToAddress(in.Receiver)
	txHash := TxHash(receiver, &in.Report)

	if w.ledger == nil {
		return &envelope.WriteReportReply{TxHash: hexutil.Bytes(txHash.Bytes()), TxStatus: TxStatusSuccess}, nil
	}

	stored, inserted, err := w.ledger.RecordSubmission(ctx, store.Submission{
		ReportDigest:  ReportDigest(&in.Report),
		ChainSelector: w.chainSelector,
		Receiver:      receiver.Hex(),
		TxHash:        txHash.Bytes(),
		GasLimit:      in.GasLimit,
		SeqNr:         in.Report.SeqNr,
	})
	if err != nil {
		return nil, fmt.Errorf("record submission: %w", err)
	}
	if !inserted {
		w.logger.Info("report already submitted",
			"receiver", receiver.Hex(), "seq_nr", in.Report.SeqNr, "tx_hash", hexutil.Encode(stored.TxHash))
	}
	return &envelope.WriteReportReply{TxHash: hexutil.Bytes(stored.TxHash), TxStatus: TxStatusSuccess}, nil
}

func (w *JournalWriter) checkSigners(report *envelope.ReportResponse) error {
	got, err := RecoverSigners(report)
	if err != nil {
		return err
	}
	for _, addr := range got {
		if slices.Contains(w.signers, addr) {
			return nil
		}
	}
	return fmt.Errorf("no signature from a trusted signer")
}
