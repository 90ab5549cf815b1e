package store

// RunRecord is the terminal snapshot of one settlement run.
type RunRecord struct {
	Seq            int64 // assigned by the store
	ID             string
	MarketID       string // decimal uint256
	Question       string
	Stage          string
	FailureStage   string
	FailureKind    string
	FailureMessage string
	Result         string
	ConfidenceBps  int
	ReportPayload  []byte
	TxHash         []byte
	Attempt        int
}

// StepRecord is one stage transition within a run.
type StepRecord struct {
	Seq    int64
	Stage  string
	Detail map[string]string
}

// Submission is a recorded chain write.
type Submission struct {
	Seq           int64 // assigned by the store
	ReportDigest  string
	ChainSelector uint64
	Receiver      string
	TxHash        []byte
	GasLimit      int64
	SeqNr         uint64
}
