package account

import (
	"fmt"
	"strings"
	"time"

	"hl-oracle-maker/internal/maker"
)

// fillEntries extracts the event maps from a user event payload. The venue
// nests fills under data.fills; replays and other gateways deliver a bare
// list.
func fillEntries(data any) []map[string]any {
	if data == nil {
		return nil
	}
	if list, ok := toSlice(data); ok {
		return mapEntries(list)
	}
	if dataMap, ok := toMap(data); ok {
		if list, ok := toSlice(dataMap["fills"]); ok {
			return mapEntries(list)
		}
		if list, ok := toSlice(dataMap["events"]); ok {
			return mapEntries(list)
		}
	}
	return nil
}

// fillKey builds a stable dedup key for one event. The venue hash wins when
// present; otherwise the key is a composite of the identifying fields.
func fillKey(entry map[string]any) string {
	if hash := stringFromMap(entry, "hash", "tid"); hash != "" {
		return hash
	}
	return fmt.Sprintf("%s|%s|%d|%d|%s",
		stringFromMap(entry, "coin", "symbol", "asset", "market"),
		stringFromMap(entry, "dir", "side"),
		int64FromAny(entry["oid"]),
		int64FromAny(entry["time"]),
		stringFromMap(entry, "sz", "size", "baseAmount"),
	)
}

// decodeRawFill maps one event onto the tracker's raw fill shape. Fields
// are read leniently; classification decides what the event means.
func (a *Account) decodeRawFill(entry map[string]any) maker.RawFill {
	raw := maker.RawFill{
		Market:   stringFromMap(entry, "coin", "symbol", "asset", "market"),
		Action:   stringFromMap(entry, "action", "type", "event"),
		Maker:    normalizeAddr(stringFromMap(entry, "maker", "makerAddress", "maker_address")),
		Taker:    normalizeAddr(stringFromMap(entry, "taker", "takerAddress", "taker_address")),
		MakerDir: directionFromAny(stringFromMap(entry, "makerDir", "maker_dir")),
		TakerDir: directionFromAny(stringFromMap(entry, "takerDir", "taker_dir")),
	}
	if raw.Action == "" {
		raw.Action = "fill"
	}
	if raw.Maker == "" && raw.Taker == "" {
		// Per-user feeds omit counterparty addressing. The crossed flag
		// tells which side of the match this account was on.
		crossed, _ := boolFromAny(entry["crossed"])
		dir := directionFromAny(stringFromMap(entry, "dir", "side"))
		if crossed {
			raw.Taker = a.user
			raw.TakerDir = dir
		} else {
			raw.Maker = a.user
			raw.MakerDir = dir
		}
	}
	if base, ok := floatFromMap(entry, "baseAmount", "base", "baseSz", "sz", "size"); ok {
		raw.BaseAmount = base
	}
	if quote, ok := floatFromMap(entry, "quoteAmount", "quote", "quoteSz", "notional"); ok {
		raw.QuoteAmount = quote
	} else if px, ok := floatFromMap(entry, "px", "price"); ok && raw.BaseAmount > 0 {
		raw.QuoteAmount = raw.BaseAmount * px
	}
	if ms := int64FromAny(entry["time"]); ms > 0 {
		raw.Time = time.UnixMilli(ms)
	} else {
		raw.Time = time.Now()
	}
	return raw
}

// directionFromAny normalizes the venue's direction vocabulary. "Open Long",
// "Close Long" and the bid marker "B" all mean the long side.
func directionFromAny(s string) string {
	switch {
	case s == "":
		return ""
	case strings.Contains(strings.ToLower(s), "long"), strings.EqualFold(s, "B"):
		return "long"
	default:
		return "short"
	}
}
