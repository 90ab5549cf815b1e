// Package capability is the host boundary between workflow code and the
// effectful capabilities it depends on.
//
// A Gateway accepts a Request and immediately returns a Handle. The response
// envelope is bound to that handle later, either before Invoke returns (Sync
// handlers) or from a goroutine (Async handlers). Await parks the caller until
// every handle in an AwaitSet is bound, the set's timeout elapses, or the
// context is cancelled.
//
// Handler failures never surface from Invoke. They are bound as ErrorReply
// envelopes and discovered by whoever awaits the handle.
//
// Each Gateway owns one pending table. Build a fresh Gateway per workflow run;
// handles are unique only within the gateway that minted them.
package capability
