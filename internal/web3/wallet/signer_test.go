package wallet

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSignTxRecoversSender(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	signer, err := NewPrivateKeySigner(hexKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if signer.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("unexpected address %s", signer.Address())
	}

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	chainID := big.NewInt(8453)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID: chainID, Nonce: 1, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2),
		Gas: 21000, To: &to, Value: big.NewInt(5),
	})
	signed, err := signer.SignTx(tx, chainID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != signer.Address() {
		t.Fatalf("sender mismatch: %s vs %s", sender, signer.Address())
	}
	if strings.Contains(signer.String(), common.Bytes2Hex(crypto.FromECDSA(key))) {
		t.Fatal("String must not leak the private key")
	}
}

func TestNewPrivateKeySignerRejectsGarbage(t *testing.T) {
	if _, err := NewPrivateKeySigner(""); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := NewPrivateKeySigner("zz"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}
