package referral

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"refnet/core/events"
	"refnet/core/types"
	nativecommon "refnet/native/common"
)

var errNilState = errors.New("referral engine: state not configured")

type engineState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
	TokenExists(symbol string) bool
	HasRole(role string, addr []byte) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Engine settles referral claims and moves funds in and out of the shared
// reward pool. The host serialises calls; the busy flag additionally rejects
// reentrant entry from collaborator callbacks while a claim or withdrawal is
// in flight.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
	busy    bool
}

// NewEngine creates a referral engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the pause view consulted before claims settle.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) enter() error {
	if e.busy {
		return ErrReentrant
	}
	e.busy = true
	return nil
}

func (e *Engine) exit() { e.busy = false }

func (e *Engine) loadCampaign(id uint64) (*Campaign, error) {
	campaign := new(Campaign)
	found, err := e.state.KVGet(campaignKey(id), campaign)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrCampaignNotFound
	}
	return campaign, nil
}

func (e *Engine) referralCount(id uint64) (uint64, error) {
	var count uint64
	if _, err := e.state.KVGet(countKey(id), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Engine) claimedFlag(id uint64, addr [20]byte) (bool, error) {
	var claimed bool
	if _, err := e.state.KVGet(claimedKey(id, addr), &claimed); err != nil {
		return false, err
	}
	return claimed, nil
}

// MakeReferral settles a one-time referral claim for the caller. Bookkeeping
// (claim flag, counter) commits before any payout so the participant can never
// claim twice; if a payout fails the bookkeeping and any transfer already
// applied are unwound and the call reports the failure with state unchanged.
func (e *Engine) MakeReferral(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return err
	}
	if !campaign.Active {
		return ErrCampaignInactive
	}
	if uint64(e.now()) > campaign.ExpiryTime {
		return ErrCampaignExpired
	}
	claimed, err := e.claimedFlag(id, caller)
	if err != nil {
		return err
	}
	if claimed {
		return ErrAlreadyReferred
	}
	count, err := e.referralCount(id)
	if err != nil {
		return err
	}
	if count >= campaign.ReferralCap {
		return ErrCapReached
	}

	if err := e.state.KVPut(claimedKey(id, caller), true); err != nil {
		return err
	}
	if err := e.state.KVPut(countKey(id), count+1); err != nil {
		return e.unwindClaim(id, caller, count, nil, err)
	}

	var basePaid *big.Int
	if base := campaign.baseRewardValue(); base.Sign() > 0 {
		if err := e.transferRNET(PoolAddress(), caller, base); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				err = fmt.Errorf("%w: need %s RNET", ErrInsufficientPoolFunds, base)
			}
			return e.unwindClaim(id, caller, count, nil, err)
		}
		basePaid = base
	}
	if campaign.HasTokenReward() {
		if err := e.transferToken(PoolAddress(), caller, campaign.RewardToken, campaign.TokenReward); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				err = fmt.Errorf("%w: need %s %s", ErrInsufficientTokenFunds, campaign.TokenReward, campaign.RewardToken)
			}
			return e.unwindClaim(id, caller, count, basePaid, err)
		}
	}

	e.emit(newReferralSuccessfulEvent(campaign, caller))
	return nil
}

// unwindClaim restores the claim flag, counter and any base payout applied
// earlier in the same call, then surfaces the original failure.
func (e *Engine) unwindClaim(id uint64, caller [20]byte, prevCount uint64, baseRefund *big.Int, cause error) error {
	var failures []error
	if err := e.state.KVPut(countKey(id), prevCount); err != nil {
		failures = append(failures, err)
	}
	if err := e.state.KVPut(claimedKey(id, caller), false); err != nil {
		failures = append(failures, err)
	}
	if baseRefund != nil && baseRefund.Sign() > 0 {
		if err := e.transferRNET(caller, PoolAddress(), baseRefund); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%w (unwind incomplete: %v)", cause, errors.Join(failures...))
	}
	return cause
}

// WithdrawFunds moves pooled funds to the caller. Any campaign owner may draw
// against the shared pool; the only bound is the live pool balance for the
// requested currency. Withdrawals stay available while claims are paused.
func (e *Engine) WithdrawFunds(caller [20]byte, id uint64, amount *big.Int, currency string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return err
	}
	if caller != campaign.Owner {
		return ErrNotOwner
	}
	normalized := NormalizeCurrency(currency)
	if normalized == BaseCurrency {
		if err := e.transferRNET(PoolAddress(), caller, amount); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return fmt.Errorf("%w: need %s RNET", ErrInsufficientPoolFunds, amount)
			}
			return err
		}
	} else {
		if !e.state.TokenExists(normalized) {
			return fmt.Errorf("%w: %s", ErrTokenNotRegistered, normalized)
		}
		if err := e.transferToken(PoolAddress(), caller, normalized, amount); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return fmt.Errorf("%w: need %s %s", ErrInsufficientTokenFunds, amount, normalized)
			}
			return err
		}
	}
	e.emit(newFundsWithdrawnEvent(id, caller, amount, normalized))
	return nil
}

// Deposit moves funds from the caller into the shared reward pool.
func (e *Engine) Deposit(caller [20]byte, amount *big.Int, currency string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	normalized := NormalizeCurrency(currency)
	if normalized == BaseCurrency {
		if err := e.transferRNET(caller, PoolAddress(), amount); err != nil {
			return err
		}
	} else {
		if !e.state.TokenExists(normalized) {
			return fmt.Errorf("%w: %s", ErrTokenNotRegistered, normalized)
		}
		if err := e.transferToken(caller, PoolAddress(), normalized, amount); err != nil {
			return err
		}
	}
	e.emit(newPoolDepositedEvent(caller, amount, normalized))
	return nil
}

// SetPaused flips the module pause flag. Only addresses holding RoleAdmin may
// call this; campaign owners have no special standing here.
func (e *Engine) SetPaused(caller [20]byte, paused bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(RoleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	if err := e.state.KVPut(pausedKeyBytes, paused); err != nil {
		return err
	}
	e.emit(newPauseChangedEvent(paused, caller))
	return nil
}

// Paused reports the persisted module pause flag.
func (e *Engine) Paused() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	var paused bool
	if _, err := e.state.KVGet(pausedKeyBytes, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// PoolBalance reports the live pool balance for the provided currency.
func (e *Engine) PoolBalance(currency string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool := PoolAddress()
	normalized := NormalizeCurrency(currency)
	if normalized == BaseCurrency {
		account, err := e.state.GetAccount(pool[:])
		if err != nil {
			return nil, err
		}
		return cloneBigInt(account.BalanceRNET), nil
	}
	return e.state.Balance(pool[:], normalized)
}

func (e *Engine) transferRNET(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 || from == to {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer", ErrInvalidAmount)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	if fromAcc.BalanceRNET == nil || fromAcc.BalanceRNET.Cmp(amt) < 0 {
		return fmt.Errorf("%w: balance %s below %s", ErrInsufficientFunds, fromAcc.BalanceRNET, amt)
	}
	fromAcc.BalanceRNET = new(big.Int).Sub(fromAcc.BalanceRNET, amt)
	if toAcc.BalanceRNET == nil {
		toAcc.BalanceRNET = big.NewInt(0)
	}
	toAcc.BalanceRNET = new(big.Int).Add(toAcc.BalanceRNET, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return err
	}
	return nil
}

func (e *Engine) transferToken(from, to [20]byte, symbol string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 || from == to {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer", ErrInvalidAmount)
	}
	fromBal, err := e.state.Balance(from[:], symbol)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: balance %s below %s", ErrInsufficientFunds, fromBal, amt)
	}
	toBal, err := e.state.Balance(to[:], symbol)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(from[:], symbol, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	if err := e.state.SetBalance(to[:], symbol, new(big.Int).Add(toBal, amt)); err != nil {
		return err
	}
	return nil
}
