package account

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"hl-oracle-maker/internal/hl/rest"
	"hl-oracle-maker/internal/hl/ws"
	"hl-oracle-maker/internal/maker"

	"go.uber.org/zap"
)

const (
	maxSeenFillKeys = 2000
	fillBufferSize  = 128
)

// Account reads perp state for one user over REST and streams the user's
// order events over the websocket. Position is always fetched fresh; the
// venue is the source of truth for inventory, never a local counter.
type Account struct {
	rest *rest.Client
	ws   *ws.Client
	user string
	log  *zap.Logger

	fills      chan maker.RawFill
	dropped    atomic.Uint64
	dropWarned atomic.Bool

	mu        sync.Mutex
	seenKeys  map[string]struct{}
	seenOrder *list.List
}

func New(restClient *rest.Client, wsClient *ws.Client, user string, log *zap.Logger) *Account {
	if log == nil {
		log = zap.NewNop()
	}
	return &Account{
		rest:      restClient,
		ws:        wsClient,
		user:      normalizeAddr(user),
		log:       log,
		fills:     make(chan maker.RawFill, fillBufferSize),
		seenKeys:  make(map[string]struct{}),
		seenOrder: list.New(),
	}
}

// User returns the normalized account address.
func (a *Account) User() string {
	return a.user
}

// Position returns the signed perp position for a market, fetched from the
// venue on every call.
func (a *Account) Position(ctx context.Context, market string) (float64, error) {
	if a.rest == nil {
		return 0, errors.New("rest client is required")
	}
	if a.user == "" {
		return 0, errors.New("account user is required")
	}
	payload, err := a.rest.Info(ctx, rest.InfoRequest{Type: "clearinghouseState", User: a.user})
	if err != nil {
		return 0, err
	}
	positions := parsePositions(payload)
	for coin, size := range positions {
		if strings.EqualFold(coin, market) {
			return size, nil
		}
	}
	return 0, nil
}

// OpenOrderIDs lists the resting order ids for a market. An empty market
// matches every coin.
func (a *Account) OpenOrderIDs(ctx context.Context, market string) ([]int64, error) {
	if a.rest == nil {
		return nil, errors.New("rest client is required")
	}
	if a.user == "" {
		return nil, errors.New("account user is required")
	}
	payload, err := a.rest.InfoAny(ctx, map[string]any{
		"type": "openOrders",
		"user": a.user,
	})
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, order := range parseOpenOrders(payload) {
		coin := stringFromMap(order, "coin", "symbol", "asset")
		if market != "" && !strings.EqualFold(coin, market) {
			continue
		}
		if id := orderIDFromOrder(order); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Fills exposes the decoded user event stream.
func (a *Account) Fills() <-chan maker.RawFill {
	return a.fills
}

func (a *Account) subscription() map[string]any {
	return map[string]any{"type": "userEvents", "user": a.user}
}

// Start registers the user event subscription. The shared ws client replays
// it on reconnect.
func (a *Account) Start(ctx context.Context) error {
	if a.ws == nil {
		return nil
	}
	return a.ws.Subscribe(ctx, map[string]any{"method": "subscribe", "subscription": a.subscription()})
}

// Unsubscribe removes the user event subscription on shutdown.
func (a *Account) Unsubscribe(ctx context.Context) error {
	if a.ws == nil {
		return nil
	}
	return a.ws.Unsubscribe(ctx, a.subscription())
}

// HandleMessage consumes one decoded ws payload and pushes every new fill
// event onto the fills channel. Duplicates from reconnect replays are
// filtered by event key.
func (a *Account) HandleMessage(msg map[string]any) {
	channel := stringFromAny(msg["channel"])
	if channel != "userEvents" && channel != "user" {
		return
	}
	for _, entry := range fillEntries(msg["data"]) {
		key := fillKey(entry)
		if a.markSeen(key) {
			continue
		}
		raw := a.decodeRawFill(entry)
		select {
		case a.fills <- raw:
		default:
			dropped := a.dropped.Add(1)
			if a.dropWarned.CompareAndSwap(false, true) {
				a.log.Warn("fill buffer full, dropping user events", zap.Uint64("dropped", dropped))
			}
		}
	}
}

// DroppedFills reports how many user events were shed on backpressure.
func (a *Account) DroppedFills() uint64 {
	return a.dropped.Load()
}

// markSeen records an event key and reports whether it was already known.
// The key set is bounded; the oldest keys are evicted first.
func (a *Account) markSeen(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.seenKeys[key]; ok {
		return true
	}
	a.seenKeys[key] = struct{}{}
	a.seenOrder.PushBack(key)
	for len(a.seenKeys) > maxSeenFillKeys {
		front := a.seenOrder.Front()
		if front == nil {
			break
		}
		a.seenOrder.Remove(front)
		if oldest, ok := front.Value.(string); ok {
			delete(a.seenKeys, oldest)
		}
	}
	return false
}

func parsePositions(payload map[string]any) map[string]float64 {
	positions := make(map[string]float64)
	assetPositions, ok := toSlice(payload["assetPositions"])
	if !ok {
		return positions
	}
	for _, entry := range assetPositions {
		entryMap, ok := toMap(entry)
		if !ok {
			continue
		}
		position, ok := toMap(entryMap["position"])
		if !ok {
			continue
		}
		coin := stringFromMap(position, "coin", "symbol", "asset")
		if coin == "" {
			continue
		}
		size, ok := floatFromAny(position["szi"])
		if !ok {
			continue
		}
		positions[coin] = size
	}
	return positions
}

func parseOpenOrders(payload any) []map[string]any {
	if payload == nil {
		return nil
	}
	if list, ok := payload.([]any); ok {
		return mapEntries(list)
	}
	if payloadMap, ok := toMap(payload); ok {
		if list, ok := toSlice(payloadMap["orders"]); ok {
			return mapEntries(list)
		}
		if list, ok := toSlice(payloadMap["data"]); ok {
			return mapEntries(list)
		}
	}
	return nil
}

func mapEntries(raw []any) []map[string]any {
	entries := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if entry, ok := toMap(item); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func orderIDFromOrder(order map[string]any) int64 {
	for _, key := range []string{"oid", "orderId", "order_id", "id"} {
		if v, ok := order[key]; ok {
			if id := int64FromAny(v); id != 0 {
				return id
			}
		}
	}
	return 0
}

func normalizeAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}

func floatFromMap(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if f, ok := floatFromAny(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func boolFromAny(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		return b, err == nil
	default:
		return false, false
	}
}

func int64FromAny(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			return 0
		}
		return i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
