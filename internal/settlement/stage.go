package settlement

// Stage is a state of the settlement machine.
type Stage string

const (
	StageTriggered        Stage = "Triggered"
	StageDecodingEvent    Stage = "DecodingEvent"
	StageFetchingOutcome  Stage = "FetchingOutcome"
	StageAggregating      Stage = "Aggregating"
	StageGeneratingReport Stage = "GeneratingReport"
	StageWritingChain     Stage = "WritingChain"
	StageSucceeded        Stage = "Succeeded"
	StageFailed           Stage = "Failed"
)

// forward lists the happy path in order.
var forward = []Stage{
	StageTriggered,
	StageDecodingEvent,
	StageFetchingOutcome,
	StageAggregating,
	StageGeneratingReport,
	StageWritingChain,
	StageSucceeded,
}

func (s Stage) rank() int {
	for i, f := range forward {
		if f == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// canAdvance reports whether from -> to is a legal transition.
func canAdvance(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	return to.rank() == from.rank()+1
}
