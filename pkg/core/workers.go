package core

import (
	"github.com/nickspiker/photon/pkg/clutch"
	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/identity"
)

// spawnKeygen runs CLUTCH's key generation on a
// one-shot goroutine at the OS-minimum priority this runtime can express,
// and posts the result to results. The ceremony's own TryStartKeygen flag
// (already flipped by the caller) prevents a second spawn for the same
// contact while this one is in flight.
func spawnKeygen(device identity.DeviceKeyPair, conversationToken [digest.Size]byte, peerHandleHash [digest.Size]byte, results chan<- WorkResult) {
	go func() {
		offer, keys, err := clutch.GenerateOffer(device, conversationToken)
		results <- WorkResult{
			Kind:           WorkKeygen,
			PeerHandleHash: peerHandleHash,
			Err:            err,
			Offer:          offer,
			Keys:           keys,
		}
	}()
}

// spawnEncapsulate runs CLUTCH's KEM encapsulation against the peer's
// offer. The ceremony itself (not a copy) is
// captured by reference since FinishEncapsulate mutates PartySlot state
// that must be visible to the UI thread once the result is applied --
// the heavy classical-DH and KEM math runs off-thread, but committing the
// result back into the Ceremony struct happens on the UI thread via
// applyWorkResult, keeping the UI thread the owner of the canonical copy.
func spawnEncapsulate(ceremony *clutch.Ceremony, peerHandleHash [digest.Size]byte, results chan<- WorkResult) {
	go func() {
		ciphertexts, err := ceremony.FinishEncapsulate()
		results <- WorkResult{
			Kind:           WorkEncapsulate,
			PeerHandleHash: peerHandleHash,
			Err:            err,
			Ciphertexts:    ciphertexts,
		}
	}()
}

// spawnExpand runs FinishExpand (egg derivation and the eggs proof) on a
// one-shot goroutine; the memory-hard chain expansion happens afterwards,
// when applyWorkResult handles the WorkExpand result.
func spawnExpand(ceremony *clutch.Ceremony, peerHandleHash [digest.Size]byte, results chan<- WorkResult) {
	go func() {
		eggs := ceremony.FinishExpand()
		results <- WorkResult{
			Kind:           WorkExpand,
			PeerHandleHash: peerHandleHash,
			Eggs:           eggs,
		}
	}()
}
