package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var (
	referralNow     = time.Now
	referralRPCCall = callRPC
)

func runReferralCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, referralUsage())
		return 1
	}

	switch args[0] {
	case "create":
		return runReferralCreate(args[1:], stdout, stderr)
	case "get":
		return runReferralGet(args[1:], stdout, stderr)
	case "list":
		return runReferralList(args[1:], stdout, stderr)
	case "stats":
		return runReferralStats(args[1:], stdout, stderr)
	case "set-status":
		return runReferralSetStatus(args[1:], stdout, stderr)
	case "set-redirect":
		return runReferralSetRedirect(args[1:], stdout, stderr)
	case "set-rewards":
		return runReferralSetRewards(args[1:], stdout, stderr)
	case "transfer-ownership":
		return runReferralTransferOwnership(args[1:], stdout, stderr)
	case "claim":
		return runReferralClaim(args[1:], stdout, stderr)
	case "withdraw":
		return runReferralWithdraw(args[1:], stdout, stderr)
	case "deposit":
		return runReferralDeposit(args[1:], stdout, stderr)
	case "pause":
		return runReferralSetPaused(args[1:], stdout, stderr, true)
	case "resume":
		return runReferralSetPaused(args[1:], stdout, stderr, false)
	case "paused":
		return runReferralPaused(args[1:], stdout, stderr)
	case "pool-balance":
		return runReferralPoolBalance(args[1:], stdout, stderr)
	case "has-referred":
		return runReferralHasReferred(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown referral subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, referralUsage())
		return 1
	}
}

func runReferralCreate(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral create", stderr)
	var (
		caller      string
		keyFile     string
		id          uint64
		title       string
		redirect    string
		baseReward  string
		rewardToken string
		tokenReward string
		cap         uint64
		expiry      string
	)
	fs.StringVar(&caller, "caller", "", "owner bech32 address")
	fs.StringVar(&keyFile, "key", "", "key file used to derive --caller when unset")
	fs.Uint64Var(&id, "id", 0, "campaign identifier")
	fs.StringVar(&title, "title", "", "campaign title")
	fs.StringVar(&redirect, "redirect", "", "redirect URL")
	fs.StringVar(&baseReward, "base-reward", "0", "RNET reward per referral (supports 100e18 shorthand)")
	fs.StringVar(&rewardToken, "token", "", "reward token symbol (empty for none)")
	fs.StringVar(&tokenReward, "token-reward", "0", "token reward per referral")
	fs.Uint64Var(&cap, "cap", 0, "maximum successful referrals")
	fs.StringVar(&expiry, "expiry", "", "expiry as +duration or RFC3339 timestamp")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	resolvedCaller, err := resolveCaller(caller, keyFile)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	normalizedBase, err := normalizeReferralAmount(baseReward, "--base-reward")
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	normalizedToken, err := normalizeReferralAmount(tokenReward, "--token-reward")
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	if expiry == "" {
		return printReferralError(stderr, "--expiry is required")
	}
	expiryUnix, err := parseReferralExpiry(expiry, referralNow())
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"caller":      resolvedCaller,
		"id":          id,
		"title":       title,
		"redirectUrl": redirect,
		"baseReward":  normalizedBase,
		"referralCap": cap,
		"expiryTime":  expiryUnix,
	}
	if strings.TrimSpace(rewardToken) != "" {
		params["rewardToken"] = strings.TrimSpace(rewardToken)
		params["tokenReward"] = normalizedToken
	}
	result, rpcErr, err := referralRPCCall("referral_createCampaign", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralGet(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral get", stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "campaign identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	params := map[string]interface{}{"id": id}
	result, rpcErr, err := referralRPCCall("referral_getCampaign", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralList(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral list", stderr)
	var owner string
	fs.StringVar(&owner, "owner", "", "owner bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(owner) == "" {
		return printReferralError(stderr, "--owner is required")
	}
	params := map[string]interface{}{"owner": owner}
	result, rpcErr, err := referralRPCCall("referral_listCampaigns", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralStats(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral stats", stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "campaign identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	params := map[string]interface{}{"id": id}
	result, rpcErr, err := referralRPCCall("referral_getStats", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralSetStatus(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral set-status", stderr)
	var (
		caller  string
		keyFile string
		id      uint64
		active  string
	)
	fs.StringVar(&caller, "caller", "", "owner bech32 address")
	fs.StringVar(&keyFile, "key", "", "key file used to derive --caller when unset")
	fs.Uint64Var(&id, "id", 0, "campaign identifier")
	fs.StringVar(&active, "active", "", "true or false")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	resolvedCaller, err := resolveCaller(caller, keyFile)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	parsedActive, err := strconv.ParseBool(strings.TrimSpace(active))
	if err != nil {
		return printReferralError(stderr, "--active must be true or false")
	}
	params := map[string]interface{}{
		"caller": resolvedCaller,
		"id":     id,
		"active": parsedActive,
	}
	result, rpcErr, err := referralRPCCall("referral_setCampaignStatus", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralSetRedirect(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral set-redirect", stderr)
	var (
		caller  string
		keyFile string
		id      uint64
		url     string
	)
	fs.StringVar(&caller, "caller", "", "owner bech32 address")
	fs.StringVar(&keyFile, "key", "", "key file used to derive --caller when unset")
	fs.Uint64Var(&id, "id", 0, "campaign identifier")
	fs.StringVar(&url, "url", "", "replacement redirect URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	resolvedCaller, err := resolveCaller(caller, keyFile)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"caller":      resolvedCaller,
		"id":          id,
		"redirectUrl": url,
	}
	result, rpcErr, err := referralRPCCall("referral_updateRedirectUrl", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralSetRewards(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral set-rewards", stderr)
	var (
		caller      string
		keyFile     string
		id          uint64
		baseReward  string
		tokenReward string
	)
	fs.StringVar(&caller, "caller", "", "owner bech32 address")
	fs.StringVar(&keyFile, "key", "", "key file used to derive --caller when unset")
	fs.Uint64Var(&id, "id", 0, "campaign identifier")
	fs.StringVar(&baseReward, "base-reward", "0", "new RNET reward per referral")
	fs.StringVar(&tokenReward, "token-reward", "0", "new token reward per referral")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	resolvedCaller, err := resolveCaller(caller, keyFile)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	normalizedBase, err := normalizeReferralAmount(baseReward, "--base-reward")
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	normalizedToken, err := normalizeReferralAmount(tokenReward, "--token-reward")
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"caller":      resolvedCaller,
		"id":          id,
		"baseReward":  normalizedBase,
		"tokenReward": normalizedToken,
	}
	result, rpcErr, err := referralRPCCall("referral_updateReferralRewards", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralTransferOwnership(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral transfer-ownership", stderr)
	var (
		caller   string
		keyFile  string
		id       uint64
		newOwner string
	)
	fs.StringVar(&caller, "caller", "", "current owner bech32 address")
	fs.StringVar(&keyFile, "key", "", "key file used to derive --caller when unset")
	fs.Uint64Var(&id, "id", 0, "campaign identifier")
	fs.StringVar(&newOwner, "new-owner", "", "new owner bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	resolvedCaller, err := resolveCaller(caller, keyFile)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	if strings.TrimSpace(newOwner) == "" {
		return printReferralError(stderr, "--new-owner is required")
	}
	params := map[string]interface{}{
		"caller":   resolvedCaller,
		"id":       id,
		"newOwner": newOwner,
	}
	result, rpcErr, err := referralRPCCall("referral_transferOwnership", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralClaim(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral claim", stderr)
	var (
		caller  string
		keyFile string
		id      uint64
	)
	fs.StringVar(&caller, "caller", "", "participant bech32 address")
	fs.StringVar(&keyFile, "key", "", "key file used to derive --caller when unset")
	fs.Uint64Var(&id, "id", 0, "campaign identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	resolvedCaller, err := resolveCaller(caller, keyFile)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"caller": resolvedCaller,
		"id":     id,
	}
	result, rpcErr, err := referralRPCCall("referral_makeReferral", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralWithdraw(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral withdraw", stderr)
	var (
		caller   string
		keyFile  string
		id       uint64
		amount   string
		currency string
	)
	fs.StringVar(&caller, "caller", "", "campaign owner bech32 address")
	fs.StringVar(&keyFile, "key", "", "key file used to derive --caller when unset")
	fs.Uint64Var(&id, "id", 0, "campaign identifier")
	fs.StringVar(&amount, "amount", "", "amount to withdraw (supports 100e18 shorthand)")
	fs.StringVar(&currency, "currency", "", "currency symbol (RNET when empty)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	resolvedCaller, err := resolveCaller(caller, keyFile)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	normalizedAmount, err := normalizeReferralAmount(amount, "--amount")
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"caller": resolvedCaller,
		"id":     id,
		"amount": normalizedAmount,
	}
	if strings.TrimSpace(currency) != "" {
		params["currency"] = strings.TrimSpace(currency)
	}
	result, rpcErr, err := referralRPCCall("referral_withdrawFunds", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral deposit", stderr)
	var (
		caller   string
		keyFile  string
		amount   string
		currency string
	)
	fs.StringVar(&caller, "caller", "", "depositor bech32 address")
	fs.StringVar(&keyFile, "key", "", "key file used to derive --caller when unset")
	fs.StringVar(&amount, "amount", "", "amount to deposit into the reward pool")
	fs.StringVar(&currency, "currency", "", "currency symbol (RNET when empty)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	resolvedCaller, err := resolveCaller(caller, keyFile)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	normalizedAmount, err := normalizeReferralAmount(amount, "--amount")
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"caller": resolvedCaller,
		"amount": normalizedAmount,
	}
	if strings.TrimSpace(currency) != "" {
		params["currency"] = strings.TrimSpace(currency)
	}
	result, rpcErr, err := referralRPCCall("referral_deposit", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralSetPaused(args []string, stdout, stderr io.Writer, paused bool) int {
	name := "referral pause"
	if !paused {
		name = "referral resume"
	}
	fs := newReferralFlagSet(name, stderr)
	var (
		caller  string
		keyFile string
	)
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.StringVar(&keyFile, "key", "", "key file used to derive --caller when unset")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	resolvedCaller, err := resolveCaller(caller, keyFile)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"caller": resolvedCaller,
		"paused": paused,
	}
	result, rpcErr, err := referralRPCCall("referral_setPaused", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralPaused(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral paused", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	result, rpcErr, err := referralRPCCall("referral_isPaused", nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralPoolBalance(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral pool-balance", stderr)
	var currency string
	fs.StringVar(&currency, "currency", "", "currency symbol (RNET when empty)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	var params map[string]interface{}
	if strings.TrimSpace(currency) != "" {
		params = map[string]interface{}{"currency": strings.TrimSpace(currency)}
	}
	result, rpcErr, err := referralRPCCall("referral_poolBalance", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReferralHasReferred(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral has-referred", stderr)
	var (
		id          uint64
		participant string
	)
	fs.Uint64Var(&id, "id", 0, "campaign identifier")
	fs.StringVar(&participant, "participant", "", "participant bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(participant) == "" {
		return printReferralError(stderr, "--participant is required")
	}
	params := map[string]interface{}{
		"id":          id,
		"participant": participant,
	}
	result, rpcErr, err := referralRPCCall("referral_hasReferred", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func newReferralFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, referralUsage())
	}
	return fs
}

func printReferralError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

// resolveCaller yields the bech32 caller address for owner-gated commands. An
// explicit --caller wins; otherwise the address is derived from the key file.
func resolveCaller(caller, keyFile string) (string, error) {
	trimmed := strings.TrimSpace(caller)
	if trimmed != "" {
		return trimmed, nil
	}
	trimmedKey := strings.TrimSpace(keyFile)
	if trimmedKey == "" {
		return "", fmt.Errorf("--caller or --key is required")
	}
	privKey, err := loadPrivateKey(trimmedKey)
	if err != nil {
		return "", err
	}
	return privKey.PubKey().Address().String(), nil
}

// normalizeReferralAmount converts operator-friendly amount notation (1.5e18,
// underscores as separators) into the canonical base-unit decimal string the
// node expects. Fractional base units are rejected.
func normalizeReferralAmount(value, flagName string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", flagName)
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expPart := strings.TrimSpace(trimmed[idx+1:])
		if expPart == "" {
			return "", fmt.Errorf("invalid scientific notation in %s", flagName)
		}
		expValue, err := strconv.ParseInt(expPart, 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation in %s", flagName)
		}
		exponent = int(expValue)
	}
	base = strings.TrimSpace(strings.TrimPrefix(base, "+"))
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("%s must not be negative", flagName)
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid amount format for %s", flagName)
	}
	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	digits := integerPart + fractionalPart
	if digits == "" {
		return "", fmt.Errorf("invalid amount format for %s", flagName)
	}
	if !isDigits(digits) {
		return "", fmt.Errorf("invalid amount format for %s", flagName)
	}
	digits = strings.TrimLeft(digits, "0")
	fracLen := len(fractionalPart)
	if fracLen > 0 {
		for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
			digits = digits[:len(digits)-1]
			fracLen--
		}
	}
	totalExponent := exponent - fracLen
	if totalExponent < 0 {
		return "", fmt.Errorf("%s must be a whole number of base units", flagName)
	}
	if digits == "" {
		return "0", nil
	}
	if totalExponent > 0 {
		digits += strings.Repeat("0", totalExponent)
	}
	return digits, nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseReferralExpiry accepts either "+duration" relative to now (with a "d"
// suffix meaning days) or an absolute RFC3339 timestamp, and returns unix
// seconds.
func parseReferralExpiry(value string, now time.Time) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--expiry is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		durationStr := strings.TrimSpace(trimmed[1:])
		if durationStr == "" {
			return 0, fmt.Errorf("invalid expiry duration")
		}
		dur, err := parseExpiryDuration(durationStr)
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, fmt.Errorf("expiry duration must be positive")
		}
		return uint64(now.Add(dur).Unix()), nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid RFC3339 expiry")
	}
	if ts.Unix() < 0 {
		return 0, fmt.Errorf("expiry must be after the unix epoch")
	}
	return uint64(ts.Unix()), nil
}

func parseExpiryDuration(value string) (time.Duration, error) {
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		daysStr := strings.TrimSuffix(strings.TrimSuffix(value, "d"), "D")
		if daysStr == "" {
			return 0, fmt.Errorf("invalid expiry duration")
		}
		days, err := strconv.ParseFloat(daysStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid expiry duration")
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid expiry duration")
	}
	return dur, nil
}

func referralUsage() string {
	return strings.TrimSpace(`Usage:
  refnet-cli referral <command> [flags]

Commands:
  create              Create a new campaign
  get                 Fetch campaign details by id
  list                List campaigns owned by an address
  stats               Fetch live claim counters for a campaign
  set-status          Activate or deactivate a campaign
  set-redirect        Replace a campaign redirect URL
  set-rewards         Replace both per-referral reward amounts
  transfer-ownership  Hand a campaign to a new owner
  claim               Claim a referral reward as a participant
  withdraw            Withdraw pooled funds as a campaign owner
  deposit             Deposit funds into the shared reward pool
  pause               Halt claim settlement (admin role required)
  resume              Resume claim settlement (admin role required)
  paused              Show the effective pause flag
  pool-balance        Show the pool balance for a currency
  has-referred        Check whether an address already claimed`)
}
