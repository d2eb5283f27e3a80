package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"slices"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"refnet/storage"
)

// Manager is the typed view over the node's persisted state: the token
// registry, per-token balances, role grants and the generic key-value space
// the referral engine keeps its records in. Values are RLP encoded and keys
// are keccak256 hashed on the way down, so the backing database only ever
// sees opaque 32-byte keys.
type Manager struct {
	db storage.Database
}

// NewManager returns a manager backed by the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

const (
	tokenKeyspace   = "token:"
	balanceKeyspace = "balance:"
	roleKeyspace    = "role:"
)

var (
	tokenIndexKey = ethcrypto.Keccak256([]byte("token-list"))
	errEmptyKVKey = errors.New("kv: key must not be empty")
)

func tokenMetadataKey(symbol string) []byte {
	return ethcrypto.Keccak256([]byte(tokenKeyspace), []byte(symbol))
}

func balanceKey(addr []byte, symbol string) []byte {
	return ethcrypto.Keccak256([]byte(balanceKeyspace), []byte(symbol), []byte{':'}, addr)
}

func roleKey(role string) []byte {
	return ethcrypto.Keccak256([]byte(roleKeyspace), []byte(role))
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// canonicalSymbol folds a user-supplied token symbol into registry form so
// "pts" and " PTS " address the same token.
func canonicalSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// getRLP loads the value stored under the hashed key and decodes it into out.
// The boolean reports whether a value was present; absent keys and tombstones
// both read as missing. A nil out skips decoding and only probes existence.
func (m *Manager) getRLP(hashed []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(hashed)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putRLP(hashed []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(hashed, encoded)
}

func (m *Manager) lookupToken(symbol string) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.getRLP(tokenMetadataKey(symbol), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return meta, nil
}

// RegisterToken records a reward token and adds its symbol to the sorted
// registry index. Registering the same symbol twice is an error.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	sym := canonicalSymbol(symbol)
	if sym == "" {
		return fmt.Errorf("token symbol required")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: display name required", sym)
	}
	existing, err := m.lookupToken(sym)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("token %s already registered", sym)
	}

	index, err := m.TokenList()
	if err != nil {
		return err
	}
	index = append(index, sym)
	slices.Sort(index)
	if err := m.putRLP(tokenIndexKey, index); err != nil {
		return err
	}
	meta := &TokenMetadata{Symbol: sym, Name: name, Decimals: decimals}
	return m.putRLP(tokenMetadataKey(sym), meta)
}

// Token retrieves metadata for a registered token. Unknown symbols yield a
// nil result without an error.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	return m.lookupToken(canonicalSymbol(symbol))
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	index := []string{}
	if _, err := m.getRLP(tokenIndexKey, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// TokenExists reports whether the symbol names a registered token.
func (m *Manager) TokenExists(symbol string) bool {
	meta, err := m.Token(symbol)
	return err == nil && meta != nil
}

// SetBalance writes the balance the account holds in the given token. The
// token must already be registered; a nil amount writes zero and negative
// amounts are rejected.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address required")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("balance cannot be negative")
	}
	sym := canonicalSymbol(symbol)
	if sym == "" {
		return fmt.Errorf("token symbol required")
	}
	meta, err := m.lookupToken(sym)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", sym)
	}
	return m.putRLP(balanceKey(addr, sym), amount)
}

// Balance retrieves the account's balance in the given token. Accounts
// without a stored entry read as zero.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.getRLP(balanceKey(addr, canonicalSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetRole grants the role to the address. Grants are idempotent and the
// membership list stays sorted so repeated writes stay deterministic.
func (m *Manager) SetRole(role string, addr []byte) error {
	name := strings.TrimSpace(role)
	if name == "" {
		return fmt.Errorf("role name required")
	}
	if len(addr) == 0 {
		return fmt.Errorf("address required")
	}
	members, err := m.RoleMembers(name)
	if err != nil {
		return err
	}
	members, added := appendUniqueBytes(members, addr)
	if added {
		slices.SortFunc(members, bytes.Compare)
	}
	return m.putRLP(roleKey(name), members)
}

// RoleMembers returns every address holding the role.
func (m *Manager) RoleMembers(role string) ([][]byte, error) {
	members := [][]byte{}
	if _, err := m.getRLP(roleKey(strings.TrimSpace(role)), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// HasRole reports whether the address holds the role. Storage failures read
// as "no" so callers gating privileged operations fail closed.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if len(addr) == 0 {
		return false
	}
	members, err := m.RoleMembers(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return true
		}
	}
	return false
}

// KVPut stores an RLP encoding of value under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return errEmptyKVKey
	}
	return m.putRLP(kvKey(key), value)
}

// KVGet decodes the value stored under the supplied key into out. The
// boolean reports whether the key held a value; deleted keys read as absent.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, errEmptyKVKey
	}
	return m.getRLP(kvKey(key), out)
}

// KVAppend adds value to the byte-slice list stored under the key. Values
// already present are skipped so the list doubles as a set.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return errEmptyKVKey
	}
	hashed := kvKey(key)
	var list [][]byte
	if _, err := m.getRLP(hashed, &list); err != nil {
		return err
	}
	list, _ = appendUniqueBytes(list, value)
	return m.putRLP(hashed, list)
}

// KVDelete clears the value stored under the key. The backing store has no
// delete primitive, so an empty write acts as a tombstone which KVGet treats
// as absence.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return errEmptyKVKey
	}
	return m.db.Put(kvKey(key), nil)
}

// KVGetList decodes the RLP list stored under the key into the destination
// slice pointer. Missing keys initialise the destination to an empty slice
// so callers never observe nil.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return errEmptyKVKey
	}
	ok, err := m.getRLP(kvKey(key), out)
	if err != nil {
		return err
	}
	if !ok {
		return initEmptySlice(out)
	}
	return nil
}

func initEmptySlice(out interface{}) error {
	ptr := reflect.ValueOf(out)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	target := ptr.Elem()
	if target.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	target.Set(reflect.MakeSlice(target.Type(), 0, 0))
	return nil
}

func appendUniqueBytes(list [][]byte, value []byte) ([][]byte, bool) {
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return list, false
		}
	}
	return append(list, append([]byte(nil), value...)), true
}
