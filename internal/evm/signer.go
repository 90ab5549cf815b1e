package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/envelope"
	"github.com/roach88/verdict/internal/ir"
	"github.com/roach88/verdict/internal/seq"
)

// Report format names accepted by the signer.
const (
	EncoderEVM       = "evm"
	SigningECDSA     = "ecdsa"
	HashingKeccak256 = "keccak256"
)

// ConfigDigest identifies the (chain, receiver) pair a signer reports for.
func ConfigDigest(chainSelector uint64, receiver common.Address) common.Hash {
	buf := make([]byte, 0, len(ir.DomainReport)+1+8+common.AddressLength)
	buf = append(buf, ir.DomainReport...)
	buf = append(buf, 0x00)
	buf = binary.BigEndian.AppendUint64(buf, chainSelector)
	buf = append(buf, receiver.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// ReportContext binds a report to its config digest and sequence number.
func ReportContext(configDigest common.Hash, seqNr uint64) common.Hash {
	return crypto.Keccak256Hash(configDigest.Bytes(), binary.BigEndian.AppendUint64(nil, seqNr))
}

// SigningHash is the digest each signature covers.
func SigningHash(rawReport, reportContext []byte) common.Hash {
	return crypto.Keccak256Hash(rawReport, reportContext)
}

// Signer is the report-generation capability. It wraps an encoded payload in
// a report signed with a single secp256k1 key.
type Signer struct {
	key          *ecdsa.PrivateKey
	configDigest common.Hash
	seqNrs       *seq.Clock
}

// NewSigner creates a signer for reports destined to receiver on the chain
// identified by chainSelector. Sequence numbers start at 1.
func NewSigner(key *ecdsa.PrivateKey, chainSelector uint64, receiver common.Address) *Signer {
	return &Signer{
		key:          key,
		configDigest: ConfigDigest(chainSelector, receiver),
		seqNrs:       seq.NewClock(),
	}
}

// Address is the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Handler exposes the signer as a capability.
func (s *Signer) Handler() capability.Handler {
	return capability.Methods{capability.MethodReport: s.report}
}

func (s *Signer) report(_ context.Context, req capability.Request) (envelope.Message, error) {
	in, err := capability.DecodeRequest[*envelope.ReportRequest](req)
	if err != nil {
		return nil, err
	}
	if err := checkFormat(in); err != nil {
		return nil, &capability.CapabilityError{Code: capability.CodeBadRequest, Target: req.TargetID, Message: err.Error()}
	}
	return s.Sign(in.EncodedPayload)
}

// Sign produces a signed report over rawReport with the next sequence number.
func (s *Signer) Sign(rawReport []byte) (*envelope.ReportResponse, error) {
	seqNr := uint64(s.seqNrs.Next())
	reportCtx := ReportContext(s.configDigest, seqNr)

	sig, err := crypto.Sign(SigningHash(rawReport, reportCtx.Bytes()).Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign report: %w", err)
	}
	return &envelope.ReportResponse{
		ConfigDigest:  hexutil.Bytes(s.configDigest.Bytes()),
		SeqNr:         seqNr,
		ReportContext: hexutil.Bytes(reportCtx.Bytes()),
		RawReport:     append(hexutil.Bytes(nil), rawReport...),
		Sigs:          []hexutil.Bytes{sig},
	}, nil
}

func checkFormat(in *envelope.ReportRequest) error {
	var problems []string
	if in.EncoderName != EncoderEVM {
		problems = append(problems, fmt.Sprintf("encoder %q", in.EncoderName))
	}
	if in.SigningAlgo != SigningECDSA {
		problems = append(problems, fmt.Sprintf("signing algorithm %q", in.SigningAlgo))
	}
	if in.HashingAlgo != HashingKeccak256 {
		problems = append(problems, fmt.Sprintf("hashing algorithm %q", in.HashingAlgo))
	}
	if len(problems) > 0 {
		return fmt.Errorf("unsupported %s", strings.Join(problems, ", "))
	}
	if len(in.EncodedPayload) == 0 {
		return fmt.Errorf("empty encoded payload")
	}
	return nil
}

// RecoverSigners returns the address behind each signature on report.
func RecoverSigners(report *envelope.ReportResponse) ([]common.Address, error) {
	hash := SigningHash(report.RawReport, report.ReportContext)
	out := make([]common.Address, 0, len(report.Sigs))
	for i, sig := range report.Sigs {
		pub, err := crypto.SigToPub(hash.Bytes(), sig)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		out = append(out, crypto.PubkeyToAddress(*pub))
	}
	return out, nil
}

// LoadKey parses a hex-encoded secp256k1 private key, with or without 0x.
func LoadKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	return key, nil
}
