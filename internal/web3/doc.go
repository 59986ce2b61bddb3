// Package web3 houses EVM connectivity: the Chain abstraction used by the
// trade executor, the Signer wallet handle, chain definitions loaded from
// YAML, and the concrete clients under its subpackages.
package web3
