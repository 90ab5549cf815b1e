// Package settlement is the settlement workflow state machine.
//
// One Execute call is one run:
//
//	Triggered -> DecodingEvent -> FetchingOutcome -> Aggregating
//	          -> GeneratingReport -> WritingChain -> Succeeded
//
// Any stage may end the run in Failed. Stages only move forward and the
// first failure is terminal; the executor never retries. Callers wanting a
// retry run the whole machine again from Triggered, which is safe because a
// failed run never reaches the chain write.
//
// Every capability call goes through a capability.Host supplied by the
// caller: the live gateway in production, the fixture emulator in tests.
package settlement
