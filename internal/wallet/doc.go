// Package wallet implements the Wallet Synchronizer.
//
// The Hub is a broadcast point for balance snapshots. It is fed from two
// sources: pushed wallet messages arriving over the subscription router, and
// explicit fetches against the REST API. Both are normalized into a complete
// WalletSnapshot before fan-out, so subscribers never see a partial update.
package wallet
