package types

import "math/big"

// Account is the ledger-facing view of an address: the operation nonce and the
// spendable RNET balance. Token balances live in the state token registry and
// are keyed separately; they are not part of this record.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceRNET *big.Int `json:"balanceRNET"`
	CodeHash    []byte   `json:"codeHash"`
	StorageRoot []byte   `json:"storageRoot"`
}

// Clone returns a deep copy so callers can mutate the result without touching
// cached state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := &Account{
		Nonce:       a.Nonce,
		BalanceRNET: big.NewInt(0),
		CodeHash:    append([]byte(nil), a.CodeHash...),
		StorageRoot: append([]byte(nil), a.StorageRoot...),
	}
	if a.BalanceRNET != nil {
		cp.BalanceRNET = new(big.Int).Set(a.BalanceRNET)
	}
	return cp
}
