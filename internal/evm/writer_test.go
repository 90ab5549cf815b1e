package evm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/envelope"
	"github.com/roach88/verdict/internal/store"
)

func openLedger(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeGateway(w *JournalWriter) *capability.Gateway {
	g := capability.New(capability.WithLogger(quietLogger()))
	g.Register(capability.Exact(capability.ChainWriteTarget(sepolia)), capability.Sync, w.Handler())
	return g
}

func writeRequest(t *testing.T, in *envelope.WriteReportRequest) capability.Request {
	t.Helper()
	req, err := capability.NewRequest(capability.ChainWriteTarget(sepolia), capability.MethodWriteReport, in)
	require.NoError(t, err)
	return req
}

func signedReport(t *testing.T) *envelope.ReportResponse {
	t.Helper()
	r, err := testSigner(t).Sign([]byte("raw report"))
	require.NoError(t, err)
	return r
}

func TestJournalWriterRecordsOnce(t *testing.T) {
	ledger := openLedger(t)
	w := NewJournalWriter(sepolia, WithLedger(ledger), WithWriterLogger(quietLogger()))
	report := signedReport(t)
	in := &envelope.WriteReportRequest{Receiver: testContract.Hex(), Report: *report, GasLimit: 500000}

	first, err := capability.Call[*envelope.WriteReportReply](context.Background(), writeGateway(w), writeRequest(t, in), 0)
	require.NoError(t, err)
	assert.Equal(t, TxHash(testContract, report).Bytes(), []byte(first.TxHash))
	assert.Equal(t, TxStatusSuccess, first.TxStatus)

	second, err := capability.Call[*envelope.WriteReportReply](context.Background(), writeGateway(w), writeRequest(t, in), 0)
	require.NoError(t, err)
	assert.Equal(t, first.TxHash, second.TxHash)

	n, err := ledger.CountSubmissions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sub, err := ledger.ReadSubmission(context.Background(), ReportDigest(report))
	require.NoError(t, err)
	assert.Equal(t, sepolia, sub.ChainSelector)
	assert.Equal(t, testContract.Hex(), sub.Receiver)
	assert.Equal(t, int64(500000), sub.GasLimit)
}

func TestJournalWriterWithoutLedger(t *testing.T) {
	w := NewJournalWriter(sepolia)
	report := signedReport(t)
	in := &envelope.WriteReportRequest{Receiver: testContract.Hex(), Report: *report, GasLimit: 1}

	reply, err := capability.Call[*envelope.WriteReportReply](context.Background(), writeGateway(w), writeRequest(t, in), 0)
	require.NoError(t, err)
	assert.Len(t, reply.TxHash, 32)
}

func TestJournalWriterTrustedSigners(t *testing.T) {
	report := signedReport(t)
	in := &envelope.WriteReportRequest{Receiver: testContract.Hex(), Report: *report, GasLimit: 500000}

	trusted := NewJournalWriter(sepolia, WithTrustedSigners(testSigner(t).Address()))
	_, err := capability.Call[*envelope.WriteReportReply](context.Background(), writeGateway(trusted), writeRequest(t, in), 0)
	require.NoError(t, err)

	stranger := NewJournalWriter(sepolia, WithTrustedSigners(common.HexToAddress("0x000000000000000000000000000000000000dEaD")))
	_, err = capability.Call[*envelope.WriteReportReply](context.Background(), writeGateway(stranger), writeRequest(t, in), 0)
	var ce *capability.CapabilityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, capability.CodeBadRequest, ce.Code)
}

func TestJournalWriterRejects(t *testing.T) {
	report := signedReport(t)
	unsigned := *report
	unsigned.Sigs = nil
	empty := *report
	empty.RawReport = nil

	tests := []struct {
		name string
		in   envelope.WriteReportRequest
	}{
		{"bad receiver", envelope.WriteReportRequest{Receiver: "0x123", Report: *report, GasLimit: 1}},
		{"zero gas", envelope.WriteReportRequest{Receiver: testContract.Hex(), Report: *report}},
		{"unsigned", envelope.WriteReportRequest{Receiver: testContract.Hex(), Report: unsigned, GasLimit: 1}},
		{"empty report", envelope.WriteReportRequest{Receiver: testContract.Hex(), Report: empty, GasLimit: 1}},
	}
	ledger := openLedger(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewJournalWriter(sepolia, WithLedger(ledger))
			in := tt.in
			_, err := capability.Call[*envelope.WriteReportReply](context.Background(), writeGateway(w), writeRequest(t, &in), 0)
			var ce *capability.CapabilityError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, capability.CodeBadRequest, ce.Code)
		})
	}

	n, err := ledger.CountSubmissions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTxHashCoversSignatures(t *testing.T) {
	report := signedReport(t)
	other := *report
	other.Sigs = []hexutil.Bytes{{0x01}}
	assert.NotEqual(t, TxHash(testContract, report), TxHash(testContract, &other))
}
