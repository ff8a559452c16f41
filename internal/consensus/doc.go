// Package consensus implements the consensus-building state machine.
//
// Every function operates on a *domain.ConsensusState owned by the caller
// and holds no state of its own. The session store is the only caller that
// mutates a live state; it serializes access under its own lock.
//
// # Rounds
//
// A round is active until every participant has either signalled
// satisfaction or spoken in it (CheckRoundComplete). A complete round is
// advanced while rounds remain (ShouldAdvanceRound / AdvanceRound). The
// state is finalized when DetectConsensus reports convergence or when the
// last round completes without it; a finalized state rejects all further
// mutation.
//
// # Signals
//
// Participants end each contribution with one of three markers:
//
//	[SIGNAL: HAS_MORE]
//	[SIGNAL: SATISFIED]
//	[SIGNAL: POSITION: "statement"]
//
// ParseSignal honors one marker per message, checked in that order.
package consensus
