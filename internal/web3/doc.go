// Package web3 holds the chain-facing vocabulary shared by the escrow and
// capability layers: the immutable network and token registry, the call type
// submitted by signers and the minimal signer and balance interfaces that
// concrete clients (direct RPC, ERC-4337 bundler) implement.
package web3
