package modules

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"refnet/core"
	"refnet/crypto"
	nativecommon "refnet/native/common"
	"refnet/native/referral"
)

// ReferralModule bridges JSON-RPC parameter objects onto the node's referral
// operations. All amounts cross the wire as base-10 strings.
type ReferralModule struct {
	node *core.Node
}

func NewReferralModule(node *core.Node) *ReferralModule {
	return &ReferralModule{node: node}
}

type createCampaignParams struct {
	Caller      string `json:"caller"`
	ID          uint64 `json:"id"`
	Title       string `json:"title"`
	RedirectURL string `json:"redirectUrl"`
	BaseReward  string `json:"baseReward"`
	RewardToken string `json:"rewardToken,omitempty"`
	TokenReward string `json:"tokenReward,omitempty"`
	ReferralCap uint64 `json:"referralCap"`
	ExpiryTime  uint64 `json:"expiryTime"`
}

type campaignRefParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type setStatusParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
	Active bool   `json:"active"`
}

type updateRedirectParams struct {
	Caller      string `json:"caller"`
	ID          uint64 `json:"id"`
	RedirectURL string `json:"redirectUrl"`
}

type updateRewardsParams struct {
	Caller      string `json:"caller"`
	ID          uint64 `json:"id"`
	BaseReward  string `json:"baseReward"`
	TokenReward string `json:"tokenReward,omitempty"`
}

type transferOwnershipParams struct {
	Caller   string `json:"caller"`
	ID       uint64 `json:"id"`
	NewOwner string `json:"newOwner"`
}

type withdrawParams struct {
	Caller   string `json:"caller"`
	ID       uint64 `json:"id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

type depositParams struct {
	Caller   string `json:"caller"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

type setPausedParams struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

type getCampaignParams struct {
	ID uint64 `json:"id"`
}

type listCampaignsParams struct {
	Owner string `json:"owner"`
}

type hasReferredParams struct {
	ID          uint64 `json:"id"`
	Participant string `json:"participant"`
}

type balanceParams struct {
	Address  string `json:"address"`
	Currency string `json:"currency,omitempty"`
}

type poolBalanceParams struct {
	Currency string `json:"currency,omitempty"`
}

// CampaignResult is the wire form of a campaign record.
type CampaignResult struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	Title       string `json:"title"`
	RedirectURL string `json:"redirectUrl"`
	BaseReward  string `json:"baseReward"`
	RewardToken string `json:"rewardToken,omitempty"`
	TokenReward string `json:"tokenReward,omitempty"`
	ReferralCap uint64 `json:"referralCap"`
	ExpiryTime  uint64 `json:"expiryTime"`
	Active      bool   `json:"active"`
}

type CampaignStatsResult struct {
	Campaign  CampaignResult `json:"campaign"`
	Referrals uint64         `json:"referrals"`
	Remaining uint64         `json:"remaining"`
	Expired   bool           `json:"expired"`
}

type ClaimResult struct {
	CampaignID  uint64 `json:"campaignId"`
	Participant string `json:"participant"`
	RedirectURL string `json:"redirectUrl"`
	Status      string `json:"status"`
}

type ListCampaignsResult struct {
	Owner     string           `json:"owner"`
	Campaigns []CampaignResult `json:"campaigns"`
}

type BalanceResult struct {
	Address  string `json:"address"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type PoolBalanceResult struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type PausedResult struct {
	Paused bool `json:"paused"`
}

type HasReferredResult struct {
	CampaignID  uint64 `json:"campaignId"`
	Participant string `json:"participant"`
	Referred    bool   `json:"referred"`
}

func (m *ReferralModule) CreateCampaign(raw json.RawMessage) (*CampaignResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params createCampaignParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	caller, modErr := decodeCaller(params.Caller)
	if modErr != nil {
		return nil, modErr
	}
	base, modErr := parseAmount(params.BaseReward, "baseReward")
	if modErr != nil {
		return nil, modErr
	}
	token, modErr := parseAmount(params.TokenReward, "tokenReward")
	if modErr != nil {
		return nil, modErr
	}
	campaign := &referral.Campaign{
		ID:          params.ID,
		Title:       params.Title,
		RedirectURL: params.RedirectURL,
		BaseReward:  base,
		RewardToken: params.RewardToken,
		TokenReward: token,
		ReferralCap: params.ReferralCap,
		ExpiryTime:  params.ExpiryTime,
	}
	if err := m.node.CreateCampaign(caller, campaign); err != nil {
		return nil, referralError(err)
	}
	stored, ok := m.node.GetCampaign(params.ID)
	if !ok {
		return nil, serverError(fmt.Errorf("campaign %d missing after create", params.ID))
	}
	result := campaignResultFrom(stored)
	return &result, nil
}

func (m *ReferralModule) SetCampaignStatus(raw json.RawMessage) (*CampaignResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params setStatusParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	caller, modErr := decodeCaller(params.Caller)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.SetCampaignStatus(caller, params.ID, params.Active); err != nil {
		return nil, referralError(err)
	}
	return m.campaignResult(params.ID)
}

func (m *ReferralModule) UpdateRedirect(raw json.RawMessage) (*CampaignResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params updateRedirectParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	caller, modErr := decodeCaller(params.Caller)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.UpdateCampaignRedirect(caller, params.ID, params.RedirectURL); err != nil {
		return nil, referralError(err)
	}
	return m.campaignResult(params.ID)
}

func (m *ReferralModule) UpdateRewards(raw json.RawMessage) (*CampaignResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params updateRewardsParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	caller, modErr := decodeCaller(params.Caller)
	if modErr != nil {
		return nil, modErr
	}
	base, modErr := parseAmount(params.BaseReward, "baseReward")
	if modErr != nil {
		return nil, modErr
	}
	token, modErr := parseAmount(params.TokenReward, "tokenReward")
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.UpdateCampaignRewards(caller, params.ID, base, token); err != nil {
		return nil, referralError(err)
	}
	return m.campaignResult(params.ID)
}

func (m *ReferralModule) TransferOwnership(raw json.RawMessage) (*CampaignResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params transferOwnershipParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	caller, modErr := decodeCaller(params.Caller)
	if modErr != nil {
		return nil, modErr
	}
	newOwner, err := decodeBech32(params.NewOwner)
	if err != nil {
		return nil, invalidParams("invalid newOwner", err)
	}
	if err := m.node.TransferCampaignOwnership(caller, params.ID, newOwner); err != nil {
		return nil, referralError(err)
	}
	return m.campaignResult(params.ID)
}

func (m *ReferralModule) MakeReferral(raw json.RawMessage) (*ClaimResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params campaignRefParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	caller, modErr := decodeCaller(params.Caller)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.MakeReferral(caller, params.ID); err != nil {
		return nil, referralError(err)
	}
	redirect := ""
	if campaign, ok := m.node.GetCampaign(params.ID); ok {
		redirect = campaign.RedirectURL
	}
	return &ClaimResult{
		CampaignID:  params.ID,
		Participant: params.Caller,
		RedirectURL: redirect,
		Status:      "settled",
	}, nil
}

func (m *ReferralModule) WithdrawFunds(raw json.RawMessage) (*PoolBalanceResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params withdrawParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	caller, modErr := decodeCaller(params.Caller)
	if modErr != nil {
		return nil, modErr
	}
	amount, modErr := parseAmount(params.Amount, "amount")
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.WithdrawFunds(caller, params.ID, amount, params.Currency); err != nil {
		return nil, referralError(err)
	}
	return m.poolBalanceResult(params.Currency)
}

func (m *ReferralModule) Deposit(raw json.RawMessage) (*PoolBalanceResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params depositParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	caller, modErr := decodeCaller(params.Caller)
	if modErr != nil {
		return nil, modErr
	}
	amount, modErr := parseAmount(params.Amount, "amount")
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.DepositPool(caller, amount, params.Currency); err != nil {
		return nil, referralError(err)
	}
	return m.poolBalanceResult(params.Currency)
}

func (m *ReferralModule) SetPaused(raw json.RawMessage) (*PausedResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params setPausedParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	caller, modErr := decodeCaller(params.Caller)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.SetPaused(caller, params.Paused); err != nil {
		return nil, referralError(err)
	}
	paused, err := m.node.Paused()
	if err != nil {
		return nil, serverError(err)
	}
	return &PausedResult{Paused: paused}, nil
}

func (m *ReferralModule) GetCampaign(raw json.RawMessage) (*CampaignResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params getCampaignParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	return m.campaignResult(params.ID)
}

func (m *ReferralModule) ListCampaigns(raw json.RawMessage) (*ListCampaignsResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params listCampaignsParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	owner, err := decodeBech32(params.Owner)
	if err != nil {
		return nil, invalidParams("invalid owner", err)
	}
	ids, err := m.node.ListCampaignsByOwner(owner)
	if err != nil {
		return nil, serverError(err)
	}
	result := &ListCampaignsResult{Owner: params.Owner, Campaigns: make([]CampaignResult, 0, len(ids))}
	for _, id := range ids {
		campaign, ok := m.node.GetCampaign(id)
		if !ok {
			continue
		}
		result.Campaigns = append(result.Campaigns, campaignResultFrom(campaign))
	}
	return result, nil
}

func (m *ReferralModule) GetStats(raw json.RawMessage) (*CampaignStatsResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params getCampaignParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	stats, err := m.node.CampaignStats(params.ID)
	if err != nil {
		return nil, referralError(err)
	}
	return &CampaignStatsResult{
		Campaign:  campaignResultFrom(stats.Campaign),
		Referrals: stats.Referrals,
		Remaining: stats.Remaining,
		Expired:   stats.Expired,
	}, nil
}

func (m *ReferralModule) HasReferred(raw json.RawMessage) (*HasReferredResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params hasReferredParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	participant, err := decodeBech32(params.Participant)
	if err != nil {
		return nil, invalidParams("invalid participant", err)
	}
	referred, err := m.node.HasReferred(params.ID, participant)
	if err != nil {
		return nil, referralError(err)
	}
	return &HasReferredResult{CampaignID: params.ID, Participant: params.Participant, Referred: referred}, nil
}

func (m *ReferralModule) IsPaused() (*PausedResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	paused, err := m.node.Paused()
	if err != nil {
		return nil, serverError(err)
	}
	return &PausedResult{Paused: paused}, nil
}

func (m *ReferralModule) PoolBalance(raw json.RawMessage) (*PoolBalanceResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params poolBalanceParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams("invalid parameter object", err)
		}
	}
	return m.poolBalanceResult(params.Currency)
}

func (m *ReferralModule) Balance(raw json.RawMessage) (*BalanceResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	var params balanceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err)
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		return nil, invalidParams("invalid address", err)
	}
	amount, err := m.node.Balance(addr, params.Currency)
	if err != nil {
		return nil, referralError(err)
	}
	return &BalanceResult{
		Address:  params.Address,
		Currency: referral.NormalizeCurrency(params.Currency),
		Amount:   amount.String(),
	}, nil
}

func (m *ReferralModule) TokenList() ([]string, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, moduleUnavailable()
	}
	list, err := m.node.TokenList()
	if err != nil {
		return nil, serverError(err)
	}
	return list, nil
}

func (m *ReferralModule) campaignResult(id uint64) (*CampaignResult, *ModuleError) {
	campaign, ok := m.node.GetCampaign(id)
	if !ok {
		return nil, &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeNotFound, Message: "campaign not found", Data: id}
	}
	result := campaignResultFrom(campaign)
	return &result, nil
}

func (m *ReferralModule) poolBalanceResult(currency string) (*PoolBalanceResult, *ModuleError) {
	balance, err := m.node.PoolBalance(currency)
	if err != nil {
		return nil, referralError(err)
	}
	return &PoolBalanceResult{
		Currency: referral.NormalizeCurrency(currency),
		Amount:   balance.String(),
	}, nil
}

func campaignResultFrom(campaign *referral.Campaign) CampaignResult {
	if campaign == nil {
		return CampaignResult{}
	}
	result := CampaignResult{
		ID:          campaign.ID,
		Owner:       formatAddr(campaign.Owner),
		Title:       campaign.Title,
		RedirectURL: campaign.RedirectURL,
		BaseReward:  amountString(campaign.BaseReward),
		RewardToken: campaign.RewardToken,
		ReferralCap: campaign.ReferralCap,
		ExpiryTime:  campaign.ExpiryTime,
		Active:      campaign.Active,
	}
	if campaign.TokenReward != nil && campaign.TokenReward.Sign() > 0 {
		result.TokenReward = campaign.TokenReward.String()
	}
	return result
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddr(addr [20]byte) string {
	return crypto.MustNewAddress(addr[:]).String()
}

func decodeCaller(value string) ([20]byte, *ModuleError) {
	caller, err := decodeBech32(value)
	if err != nil {
		return caller, invalidParams("invalid caller", err)
	}
	return caller, nil
}

func decodeBech32(value string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

// parseAmount accepts decimal strings; an empty string reads as zero.
func parseAmount(value, field string) (*big.Int, *ModuleError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("invalid %s", field), fmt.Errorf("%q is not a base-10 integer", value))
	}
	if amount.Sign() < 0 {
		return nil, invalidParams(fmt.Sprintf("invalid %s", field), fmt.Errorf("negative amounts are not allowed"))
	}
	return amount, nil
}

func moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "referral module not initialised"}
}

func invalidParams(message string, err error) *ModuleError {
	modErr := &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: message}
	if err != nil {
		modErr.Data = err.Error()
	}
	return modErr
}

func serverError(err error) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
}

// referralError maps domain failures onto transport status and code pairs so
// clients can distinguish rejections from outages.
func referralError(err error) *ModuleError {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codeModulePaused, Message: "referral module paused"}
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaRNETCapExceeded):
		return &ModuleError{HTTPStatus: http.StatusTooManyRequests, Code: codeQuotaExceeded, Message: err.Error()}
	case errors.Is(err, referral.ErrCampaignNotFound):
		return &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, referral.ErrNotOwner), errors.Is(err, referral.ErrUnauthorized):
		return &ModuleError{HTTPStatus: http.StatusForbidden, Code: codeUnauthorized, Message: err.Error()}
	case errors.Is(err, referral.ErrCampaignInactive),
		errors.Is(err, referral.ErrCampaignExpired),
		errors.Is(err, referral.ErrAlreadyReferred),
		errors.Is(err, referral.ErrCapReached),
		errors.Is(err, referral.ErrInsufficientPoolFunds),
		errors.Is(err, referral.ErrInsufficientTokenFunds),
		errors.Is(err, referral.ErrInsufficientFunds):
		return &ModuleError{HTTPStatus: http.StatusConflict, Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, referral.ErrNilCampaign),
		errors.Is(err, referral.ErrInvalidCampaign),
		errors.Is(err, referral.ErrCampaignExists),
		errors.Is(err, referral.ErrInvalidExpiry),
		errors.Is(err, referral.ErrInvalidOwner),
		errors.Is(err, referral.ErrInvalidAmount),
		errors.Is(err, referral.ErrTokenNotRegistered):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	default:
		return serverError(err)
	}
}
