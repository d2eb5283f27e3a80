package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"refnet/core/types"
)

func accountStateKey(addr []byte) []byte {
	return ethcrypto.Keccak256(addr)
}

func newEmptyAccount() *types.Account {
	return &types.Account{
		BalanceRNET: big.NewInt(0),
		StorageRoot: gethtypes.EmptyRootHash.Bytes(),
		CodeHash:    gethtypes.EmptyCodeHash.Bytes(),
	}
}

func normalizeAccount(account *types.Account) {
	if account.BalanceRNET == nil {
		account.BalanceRNET = big.NewInt(0)
	}
	if len(account.StorageRoot) == 0 {
		account.StorageRoot = gethtypes.EmptyRootHash.Bytes()
	}
	if len(account.CodeHash) == 0 {
		account.CodeHash = gethtypes.EmptyCodeHash.Bytes()
	}
}

// GetAccount reconstructs the account stored under the provided address.
// Unknown addresses read as a fresh zero-balance account rather than an
// error.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address required")
	}
	stored := new(gethtypes.StateAccount)
	ok, err := m.getRLP(accountStateKey(addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newEmptyAccount(), nil
	}

	account := &types.Account{
		Nonce:       stored.Nonce,
		BalanceRNET: big.NewInt(0),
		StorageRoot: stored.Root.Bytes(),
		CodeHash:    common.CopyBytes(stored.CodeHash),
	}
	if stored.Balance != nil {
		account.BalanceRNET = stored.Balance.ToBig()
	}
	normalizeAccount(account)
	return account, nil
}

// PutAccount writes the account state stored for addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address required")
	}
	if account == nil {
		return fmt.Errorf("account required")
	}
	normalizeAccount(account)

	balance, overflow := uint256.FromBig(account.BalanceRNET)
	if overflow {
		return fmt.Errorf("balance exceeds the uint256 range")
	}
	stored := &gethtypes.StateAccount{
		Nonce:    account.Nonce,
		Balance:  balance,
		Root:     common.BytesToHash(account.StorageRoot),
		CodeHash: common.CopyBytes(account.CodeHash),
	}
	if stored.Root == (common.Hash{}) {
		stored.Root = gethtypes.EmptyRootHash
	}
	if len(stored.CodeHash) == 0 {
		stored.CodeHash = gethtypes.EmptyCodeHash.Bytes()
	}
	return m.putRLP(accountStateKey(addr), stored)
}
