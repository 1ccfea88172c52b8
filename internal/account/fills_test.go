package account

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDecodeRawFillPerUserMakerSide(t *testing.T) {
	acct := New(nil, nil, testUser, zap.NewNop())
	raw := acct.decodeRawFill(map[string]any{
		"coin":    "ETH",
		"px":      "100",
		"sz":      "0.5",
		"dir":     "Open Long",
		"crossed": false,
		"time":    1700000000000,
	})
	if raw.Action != "fill" {
		t.Fatalf("expected action fill, got %s", raw.Action)
	}
	if raw.Maker != normalizeAddr(testUser) || raw.Taker != "" {
		t.Fatalf("expected maker-side fill, got maker=%q taker=%q", raw.Maker, raw.Taker)
	}
	if raw.MakerDir != "long" {
		t.Fatalf("expected long, got %s", raw.MakerDir)
	}
	if raw.BaseAmount != 0.5 || raw.QuoteAmount != 50 {
		t.Fatalf("unexpected amounts base=%f quote=%f", raw.BaseAmount, raw.QuoteAmount)
	}
	if !raw.Time.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected time %v", raw.Time)
	}
}

func TestDecodeRawFillCrossedTakerSide(t *testing.T) {
	acct := New(nil, nil, testUser, zap.NewNop())
	raw := acct.decodeRawFill(map[string]any{
		"coin":    "ETH",
		"px":      "100",
		"sz":      "1",
		"side":    "A",
		"crossed": true,
	})
	if raw.Taker != normalizeAddr(testUser) || raw.Maker != "" {
		t.Fatalf("expected taker-side fill, got maker=%q taker=%q", raw.Maker, raw.Taker)
	}
	if raw.TakerDir != "short" {
		t.Fatalf("expected short, got %s", raw.TakerDir)
	}
}

func TestDecodeRawFillExplicitParties(t *testing.T) {
	acct := New(nil, nil, testUser, zap.NewNop())
	raw := acct.decodeRawFill(map[string]any{
		"market":      "ETH",
		"action":      "fill",
		"maker":       "0xAAA",
		"taker":       "0xBBB",
		"makerDir":    "Close Short",
		"takerDir":    "Open Long",
		"baseAmount":  "2",
		"quoteAmount": "200",
	})
	if raw.Maker != "0xaaa" || raw.Taker != "0xbbb" {
		t.Fatalf("unexpected parties maker=%q taker=%q", raw.Maker, raw.Taker)
	}
	if raw.MakerDir != "short" || raw.TakerDir != "long" {
		t.Fatalf("unexpected dirs maker=%s taker=%s", raw.MakerDir, raw.TakerDir)
	}
	if raw.BaseAmount != 2 || raw.QuoteAmount != 200 {
		t.Fatalf("unexpected amounts base=%f quote=%f", raw.BaseAmount, raw.QuoteAmount)
	}
}

func TestDecodeRawFillKeepsNonFillAction(t *testing.T) {
	acct := New(nil, nil, testUser, zap.NewNop())
	raw := acct.decodeRawFill(map[string]any{"coin": "ETH", "type": "funding"})
	if raw.Action != "funding" {
		t.Fatalf("expected funding action preserved, got %s", raw.Action)
	}
}

func TestFillEntriesShapes(t *testing.T) {
	bare := fillEntries([]any{map[string]any{"coin": "ETH"}})
	if len(bare) != 1 {
		t.Fatalf("expected bare list parsed, got %d entries", len(bare))
	}
	nested := fillEntries(map[string]any{"fills": []any{map[string]any{"coin": "ETH"}, map[string]any{"coin": "BTC"}}})
	if len(nested) != 2 {
		t.Fatalf("expected nested fills parsed, got %d entries", len(nested))
	}
	if fillEntries(map[string]any{"mids": map[string]any{}}) != nil {
		t.Fatalf("expected unrelated payload ignored")
	}
}

func TestFillKeyPrefersHash(t *testing.T) {
	withHash := fillKey(map[string]any{"hash": "0xf1", "coin": "ETH"})
	if withHash != "0xf1" {
		t.Fatalf("expected hash key, got %s", withHash)
	}
	a := fillKey(map[string]any{"coin": "ETH", "dir": "Open Long", "oid": 1, "time": 10, "sz": "0.5"})
	b := fillKey(map[string]any{"coin": "ETH", "dir": "Open Long", "oid": 1, "time": 10, "sz": "0.5"})
	c := fillKey(map[string]any{"coin": "ETH", "dir": "Open Long", "oid": 2, "time": 10, "sz": "0.5"})
	if a != b {
		t.Fatalf("expected identical events to share a key")
	}
	if a == c {
		t.Fatalf("expected distinct orders to differ")
	}
}
