package posoffline

import (
	"context"
	"encoding/json"
	"time"
)

const leasePrefix = "lease_"

type leaseRecord struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// acquireLease takes the named lease on storage. Backends implementing
// LeaseStorage do it atomically; for the rest it is a read-then-write, which
// narrows but does not close the window between two processes.
func acquireLease(ctx context.Context, s Storage, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	if ls, ok := s.(LeaseStorage); ok {
		return ls.AcquireLease(ctx, name, holder, ttl)
	}

	key := leasePrefix + name
	raw, found, err := s.GetItem(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		var cur leaseRecord
		if json.Unmarshal(raw, &cur) == nil && cur.Holder != holder && now.Before(cur.ExpiresAt) {
			return false, nil
		}
	}
	data, err := json.Marshal(leaseRecord{Holder: holder, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return false, err
	}
	if err := s.SetItem(ctx, key, data); err != nil {
		return false, err
	}
	return true, nil
}

func releaseLease(ctx context.Context, s Storage, name, holder string) error {
	if ls, ok := s.(LeaseStorage); ok {
		return ls.ReleaseLease(ctx, name, holder)
	}

	key := leasePrefix + name
	raw, found, err := s.GetItem(ctx, key)
	if err != nil || !found {
		return err
	}
	var cur leaseRecord
	if json.Unmarshal(raw, &cur) == nil && cur.Holder != holder {
		return nil
	}
	return s.RemoveItem(ctx, key)
}
