// Package evm holds the EVM-facing pieces of a settlement: decoding the
// SettlementRequested trigger log, ABI-encoding the outcome report, signing
// reports, and the chain-write capability.
//
// Chain RPC is not implemented here. JournalWriter accepts a signed report,
// derives its transaction hash deterministically and records it in a Ledger,
// so a re-submitted report maps to the transaction already recorded.
package evm
