// Package consensus runs one capability call on N independent nodes and
// reduces their responses to a single agreed envelope.
//
// Fan-out is a join: every node runs to completion (or the await timeout)
// before any policy sees the results. A single node timeout fails the whole
// collection and partial results are discarded.
package consensus

import (
	"errors"
	"fmt"

	"github.com/roach88/verdict/internal/envelope"
)

// NodeResult is one node's response to a fanned-out call.
type NodeResult struct {
	NodeIndex int
	Envelope  envelope.Envelope
}

// Status is the result of aggregation.
type Status int

const (
	Agreed Status = iota
	Disagreed
)

func (s Status) String() string {
	switch s {
	case Agreed:
		return "agreed"
	case Disagreed:
		return "disagreed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome is the aggregated result. Value is set only when Status is Agreed.
type Outcome struct {
	Status Status
	Value  *envelope.Envelope

	// Distinct is the number of distinct envelopes seen across nodes.
	Distinct int
}

// AgreementPolicy reduces node results to an outcome. Implementations must
// not depend on the order of results.
type AgreementPolicy interface {
	Name() string
	Aggregate(results []NodeResult) (Outcome, error)
}

// ErrNoResults is returned when a policy is given nothing to aggregate.
var ErrNoResults = errors.New("no node results to aggregate")

// Unanimous agrees only when every node returned a byte-identical envelope,
// type URL included. It never produces a partial or majority result.
type Unanimous struct{}

func (Unanimous) Name() string { return "unanimous" }

func (Unanimous) Aggregate(results []NodeResult) (Outcome, error) {
	if len(results) == 0 {
		return Outcome{}, ErrNoResults
	}

	distinct := map[string]struct{}{}
	for _, r := range results {
		distinct[r.Envelope.Digest()] = struct{}{}
	}

	if len(distinct) != 1 {
		return Outcome{Status: Disagreed, Distinct: len(distinct)}, nil
	}
	// Digest equality is checked again byte for byte so agreement never rests
	// on a hash alone.
	first := results[0].Envelope
	for _, r := range results[1:] {
		if !first.Equal(r.Envelope) {
			return Outcome{Status: Disagreed, Distinct: 2}, nil
		}
	}
	value := envelope.Envelope{
		TypeURL: first.TypeURL,
		Payload: append([]byte(nil), first.Payload...),
	}
	return Outcome{Status: Agreed, Value: &value, Distinct: 1}, nil
}
