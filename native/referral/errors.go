package referral

import "errors"

var (
	ErrNilCampaign            = errors.New("referral: nil campaign")
	ErrInvalidCampaign        = errors.New("referral: invalid campaign")
	ErrCampaignExists         = errors.New("referral: campaign already exists")
	ErrCampaignNotFound       = errors.New("referral: campaign not found")
	ErrInvalidExpiry          = errors.New("referral: expiry must be in the future")
	ErrNotOwner               = errors.New("referral: caller is not the campaign owner")
	ErrInvalidOwner           = errors.New("referral: invalid owner address")
	ErrCampaignInactive       = errors.New("referral: campaign inactive")
	ErrCampaignExpired        = errors.New("referral: campaign expired")
	ErrAlreadyReferred        = errors.New("referral: participant already referred")
	ErrCapReached             = errors.New("referral: referral cap reached")
	ErrInsufficientPoolFunds  = errors.New("referral: insufficient pool funds")
	ErrInsufficientTokenFunds = errors.New("referral: insufficient pool token funds")
	ErrInsufficientFunds      = errors.New("referral: insufficient funds")
	ErrInvalidAmount          = errors.New("referral: amount must be positive")
	ErrTokenNotRegistered     = errors.New("referral: token not registered")
	ErrReentrant              = errors.New("referral: reentrant call")
	ErrUnauthorized           = errors.New("referral: unauthorized")
)
