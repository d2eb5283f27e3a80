package genesis

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"refnet/core/state"
	"refnet/crypto"
	"refnet/native/referral"
	"refnet/storage"
)

func genesisAddr(b byte) string {
	return crypto.MustNewAddress(bytes.Repeat([]byte{b}, 20)).String()
}

func sampleSpec() GenesisSpec {
	addr1 := genesisAddr(0x01)
	addr2 := genesisAddr(0x02)
	return GenesisSpec{
		GenesisTime: "2026-01-01T00:00:00Z",
		NativeTokens: []NativeTokenSpec{
			{Symbol: "PTS", Name: "Points", Decimals: 18},
		},
		Alloc: map[string]map[string]string{
			addr1: {"RNET": "1000", "PTS": "50"},
			addr2: {"RNET": "2000"},
		},
		Roles: map[string][]string{
			referral.RoleAdmin: {addr1},
		},
		Pool: map[string]string{
			"RNET": "5000",
			"PTS":  "300",
		},
		Campaigns: []CampaignSpec{
			{
				ID:          1,
				Owner:       addr2,
				Title:       "genesis launch",
				RedirectURL: "https://example.com/launch",
				BaseReward:  "25",
				RewardToken: "PTS",
				TokenReward: "5",
				ReferralCap: 10,
				ExpiryTime:  1798761600, // 2027-01-01T00:00:00Z
			},
		},
	}
}

func TestLoadGenesisSpecAndApply(t *testing.T) {
	spec := sampleSpec()

	path := filepath.Join(t.TempDir(), "genesis.json")
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	loaded, err := LoadGenesisSpec(path)
	if err != nil {
		t.Fatalf("load spec: %v", err)
	}

	db := storage.NewMemDB()
	defer db.Close()
	manager := state.NewManager(db)
	if err := Apply(loaded, manager); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	if !manager.TokenExists("PTS") {
		t.Fatalf("expected PTS registered")
	}

	addr1, _ := ParseBech32Account(genesisAddr(0x01))
	account, err := manager.GetAccount(addr1[:])
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.BalanceRNET.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected 1000 RNET, got %s", account.BalanceRNET)
	}
	ptsBal, err := manager.Balance(addr1[:], "PTS")
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	if ptsBal.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected 50 PTS, got %s", ptsBal)
	}
	if !manager.HasRole(referral.RoleAdmin, addr1[:]) {
		t.Fatalf("expected admin role granted")
	}

	pool := referral.PoolAddress()
	poolAccount, err := manager.GetAccount(pool[:])
	if err != nil {
		t.Fatalf("pool account: %v", err)
	}
	if poolAccount.BalanceRNET.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("expected pool 5000 RNET, got %s", poolAccount.BalanceRNET)
	}

	registry := referral.NewRegistry(manager)
	campaign, ok := registry.GetCampaign(1)
	if !ok {
		t.Fatalf("expected seeded campaign")
	}
	if !campaign.Active || campaign.Title != "genesis launch" {
		t.Fatalf("unexpected campaign: %+v", campaign)
	}

	// A second apply is a no-op, balances must not double.
	if err := Apply(loaded, manager); err != nil {
		t.Fatalf("reapply genesis: %v", err)
	}
	account, _ = manager.GetAccount(addr1[:])
	if account.BalanceRNET.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("reapply doubled balance: %s", account.BalanceRNET)
	}
}

func TestGenesisSpecValidation(t *testing.T) {
	base := sampleSpec()

	t.Run("undefined currency", func(t *testing.T) {
		spec := base
		spec.Pool = map[string]string{"GOLD": "1"}
		if err := spec.Validate(); err == nil {
			t.Fatalf("expected undefined currency to fail")
		}
	})

	t.Run("campaign expires before genesis", func(t *testing.T) {
		spec := base
		spec.Campaigns = []CampaignSpec{{
			ID:          2,
			Owner:       genesisAddr(0x03),
			Title:       "stale",
			RedirectURL: "https://example.com",
			ExpiryTime:  1, // long before the 2026 genesis time
			ReferralCap: 1,
		}}
		if err := spec.Validate(); err == nil {
			t.Fatalf("expected stale expiry to fail")
		}
	})

	t.Run("base currency declared as token", func(t *testing.T) {
		spec := base
		spec.NativeTokens = []NativeTokenSpec{{Symbol: "rnet", Name: "Base", Decimals: 18}}
		if err := spec.Validate(); err == nil {
			t.Fatalf("expected base currency token to fail")
		}
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "genesis.json")
		if err := os.WriteFile(path, []byte(`{"genesisTime":"2026-01-01T00:00:00Z","bogus":true}`), 0o644); err != nil {
			t.Fatalf("write spec: %v", err)
		}
		if _, err := LoadGenesisSpec(path); err == nil {
			t.Fatalf("expected unknown field to fail")
		}
	})
}
