// Package config loads and validates executor configuration.
//
// Sources, in order of precedence (later wins):
//  1. built-in defaults
//  2. the JSON config file
//  3. VERDICT_* environment variables
//
// The result is checked against an embedded CUE schema and the chain
// registry before any run starts.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Defaults for optional fields.
const (
	DefaultNodeCount      = 3
	DefaultAwaitTimeoutMs = 30000
	DefaultEvidenceURI    = "Gemini Search Grounding"
	DefaultGasLimit       = 500000
)

// Config is the executor configuration.
type Config struct {
	GeminiModel     string `json:"geminiModel" env:"VERDICT_GEMINI_MODEL"`
	ContractAddress string `json:"contractAddress" env:"VERDICT_CONTRACT_ADDRESS"`
	ChainName       string `json:"chainName" env:"VERDICT_CHAIN_NAME"`
	NodeCount       int    `json:"nodeCount" env:"VERDICT_NODE_COUNT"`
	AwaitTimeoutMs  int64  `json:"awaitTimeoutMs" env:"VERDICT_AWAIT_TIMEOUT_MS"`
	EvidenceURI     string `json:"evidenceUri" env:"VERDICT_EVIDENCE_URI"`
	GasLimit        int64  `json:"gasLimit" env:"VERDICT_GAS_LIMIT"`
}

// Load reads path, overlays the process environment, applies defaults and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Code: ErrUnreadable, Field: path, Message: err.Error()}
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	if err := Overlay(&cfg, nil); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a JSON config document. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, &Error{Code: ErrMalformed, Field: "config", Message: err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return Config{}, &Error{Code: ErrMalformed, Field: "config", Message: "trailing data after config object"}
	}
	return cfg, nil
}

// Overlay sets every field whose VERDICT_* variable is present. A nil
// environ reads the process environment.
func Overlay(cfg *Config, environ map[string]string) error {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return &Error{Code: ErrEnvironment, Field: "env", Message: err.Error()}
	}
	return nil
}

// ApplyDefaults fills zero optional fields.
func (c *Config) ApplyDefaults() {
	if c.NodeCount == 0 {
		c.NodeCount = DefaultNodeCount
	}
	if c.AwaitTimeoutMs == 0 {
		c.AwaitTimeoutMs = DefaultAwaitTimeoutMs
	}
	if c.EvidenceURI == "" {
		c.EvidenceURI = DefaultEvidenceURI
	}
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
}

// Validate checks c against the schema and the chain registry. Every
// problem found is reported, not just the first.
func (c Config) Validate() error {
	var errs Errors

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			errs = append(errs, Error{
				Code:    ErrSchema,
				Field:   cue.MakePath(selectors(e.Path())...).String(),
				Message: fmt.Sprintf(format, args...),
			})
		}
	}

	if c.ChainName != "" {
		if _, ok := LookupChain(c.ChainName); !ok {
			errs = append(errs, Error{Code: ErrUnknownChain, Field: "chainName", Message: fmt.Sprintf("unknown chain %q", c.ChainName)})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func selectors(path []string) []cue.Selector {
	sels := make([]cue.Selector, 0, len(path))
	for _, p := range path {
		if p == "#Config" {
			continue
		}
		sels = append(sels, cue.Str(p))
	}
	return sels
}

// AwaitTimeout is the per-await budget.
func (c Config) AwaitTimeout() time.Duration {
	return time.Duration(c.AwaitTimeoutMs) * time.Millisecond
}

// Receiver is the settlement contract address.
func (c Config) Receiver() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// ChainSelector resolves ChainName. Validate guarantees it is known.
func (c Config) ChainSelector() uint64 {
	chain, _ := LookupChain(c.ChainName)
	return chain.Selector
}

// ChainWriteTarget is the capability id chain writes go to.
func (c Config) ChainWriteTarget() string {
	return capability.ChainWriteTarget(c.ChainSelector())
}

// Digest identifies the effective configuration in logs and the journal.
func (c Config) Digest() (string, error) {
	return ir.ObjectDigest(ir.DomainConfig, ir.IRObject{
		"geminiModel":     ir.IRString(c.GeminiModel),
		"contractAddress": ir.IRString(c.Receiver().Hex()),
		"chainName":       ir.IRString(c.ChainName),
		"nodeCount":       ir.IRInt(c.NodeCount),
		"awaitTimeoutMs":  ir.IRInt(c.AwaitTimeoutMs),
		"evidenceUri":     ir.IRString(c.EvidenceURI),
		"gasLimit":        ir.IRInt(c.GasLimit),
	})
}
