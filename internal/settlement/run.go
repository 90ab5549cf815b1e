package settlement

import (
	"fmt"
	"maps"
	"math/big"

	"github.com/roach88/verdict/internal/gemini"
	"github.com/roach88/verdict/internal/seq"
	"github.com/roach88/verdict/internal/store"
)

// Step is one stage transition. Detail carries the facts established on
// entering the stage.
type Step struct {
	Seq    int64
	Stage  Stage
	Detail map[string]string
}

// Run is one settlement run. It is owned by the goroutine executing it and
// discarded when Execute returns, apart from the journal snapshot.
type Run struct {
	ID            string
	Attempt       int
	MarketID      *big.Int
	Question      string
	Stage         Stage
	Outcome       *gemini.Outcome
	ReportPayload []byte
	TxHash        []byte
	Failure       *StageError
	Steps         []Step

	clock *seq.Clock
}

func newRun(id string, attempt int) *Run {
	r := &Run{ID: id, Attempt: attempt, Stage: StageTriggered, clock: seq.NewClock()}
	r.Steps = append(r.Steps, Step{Seq: r.clock.Next(), Stage: StageTriggered})
	return r
}

// advance moves the run to stage. Illegal transitions are programming
// errors and panic.
func (r *Run) advance(stage Stage, detail map[string]string) {
	if !canAdvance(r.Stage, stage) {
		panic(fmt.Sprintf("settlement: illegal transition %s -> %s", r.Stage, stage))
	}
	r.Stage = stage
	r.Steps = append(r.Steps, Step{Seq: r.clock.Next(), Stage: stage, Detail: maps.Clone(detail)})
}

// fail ends the run.
func (r *Run) fail(err *StageError) {
	r.Failure = err
	r.advance(StageFailed, map[string]string{
		"stage": string(err.Stage),
		"kind":  string(err.Kind),
		"error": err.Err.Error(),
	})
}

// Succeeded reports whether the run reached Succeeded.
func (r *Run) Succeeded() bool {
	return r.Stage == StageSucceeded
}

// Record converts the run into its journal form.
func (r *Run) Record() (store.RunRecord, []store.StepRecord) {
	rec := store.RunRecord{
		ID:            r.ID,
		Question:      r.Question,
		Stage:         string(r.Stage),
		ReportPayload: r.ReportPayload,
		TxHash:        r.TxHash,
		Attempt:       r.Attempt,
	}
	if r.MarketID != nil {
		rec.MarketID = r.MarketID.String()
	}
	if r.Outcome != nil {
		rec.Result = string(r.Outcome.Result)
		rec.ConfidenceBps = int(r.Outcome.ConfidenceBps)
	}
	if r.Failure != nil {
		rec.FailureStage = string(r.Failure.Stage)
		rec.FailureKind = string(r.Failure.Kind)
		rec.FailureMessage = r.Failure.Err.Error()
	}

	steps := make([]store.StepRecord, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = store.StepRecord{Seq: s.Seq, Stage: string(s.Stage), Detail: s.Detail}
	}
	return rec, steps
}
