package state

import (
	"context"
	"encoding/json"
	"strings"
)

const SessionSnapshotKey = "session:last_snapshot"

// SessionSnapshot is the periodic telemetry record for one quoting session.
// It is written for operators and post-mortems; nothing reloads it into the
// trading state on restart.
type SessionSnapshot struct {
	Market       string  `json:"market"`
	State        string  `json:"state"`
	OraclePrice  float64 `json:"oracle_price"`
	Position     float64 `json:"position"`
	RealizedPnl  float64 `json:"realized_pnl"`
	TotalMatches int     `json:"total_matches"`
	OpenBuys     int     `json:"open_buys"`
	OpenSells    int     `json:"open_sells"`
	UpdatedAtMS  int64   `json:"updated_at_ms"`
}

func LoadSessionSnapshot(ctx context.Context, store Store) (SessionSnapshot, bool, error) {
	if store == nil {
		return SessionSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, SessionSnapshotKey)
	if err != nil {
		return SessionSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return SessionSnapshot{}, false, nil
	}
	var snapshot SessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return SessionSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveSessionSnapshot(ctx context.Context, store Store, snapshot SessionSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, SessionSnapshotKey, string(payload))
}
