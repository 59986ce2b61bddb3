// Package keyring resolves wallet and exchange account references to
// credentials held in environment variables. Secrets are read on every lookup
// and never cached.
package keyring

import (
	"os"
	"strings"

	"TradePilot/internal/config"
	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/exchange"
	"TradePilot/internal/web3"
	"TradePilot/internal/web3/wallet"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Keyring maps reference names to environment-held secrets.
type Keyring struct {
	cfg               config.KeyringConfig
	lookup            LookupFunc
	requirePassphrase bool
}

// Option configures a Keyring.
type Option func(*Keyring)

// WithLookup replaces os.LookupEnv.
func WithLookup(fn LookupFunc) Option {
	return func(k *Keyring) {
		if fn != nil {
			k.lookup = fn
		}
	}
}

// WithPassphraseRequired makes Exchange reject accounts without a passphrase.
func WithPassphraseRequired(required bool) Option {
	return func(k *Keyring) {
		k.requirePassphrase = required
	}
}

// New creates a Keyring.
func New(cfg config.KeyringConfig, opts ...Option) *Keyring {
	k := &Keyring{cfg: cfg, lookup: os.LookupEnv}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// Wallet returns the signer registered under ref; an empty ref selects the default wallet.
func (k *Keyring) Wallet(ref string) (web3.Signer, error) {
	ref = pick(ref, k.cfg.DefaultWallet)
	entry, ok := k.cfg.Wallets[ref]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown wallet: "+ref)
	}
	key, err := k.secret(entry.PrivateKeyEnv, "wallet "+ref)
	if err != nil {
		return nil, err
	}
	signer, err := wallet.NewPrivateKeySigner(key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "wallet "+ref+" has an invalid private key")
	}
	return signer, nil
}

// Exchange returns the API credentials registered under ref; an empty ref selects the default account.
func (k *Keyring) Exchange(ref string) (*exchange.Credentials, error) {
	ref = pick(ref, k.cfg.DefaultAccount)
	entry, ok := k.cfg.Accounts[ref]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown exchange account: "+ref)
	}
	apiKey, err := k.secret(entry.APIKeyEnv, "account "+ref)
	if err != nil {
		return nil, err
	}
	apiSecret, err := k.secret(entry.APISecretEnv, "account "+ref)
	if err != nil {
		return nil, err
	}
	creds := &exchange.Credentials{APIKey: apiKey, APISecret: apiSecret}
	if entry.PassphraseEnv != "" {
		creds.Passphrase, _ = k.lookup(entry.PassphraseEnv)
	}
	if err := creds.Validate(k.requirePassphrase); err != nil {
		return nil, err
	}
	return creds, nil
}

func (k *Keyring) secret(env, owner string) (string, error) {
	if strings.TrimSpace(env) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, owner+" has no environment variable configured")
	}
	value, ok := k.lookup(env)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, owner+": environment variable "+env+" is not set")
	}
	return value, nil
}

func pick(ref, fallback string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fallback
	}
	return ref
}
