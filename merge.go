package posoffline

import "encoding/json"

// MergeQueued puts a placeholder for every undelivered action of kind ahead of
// the confirmed records. Placeholders keep enqueue order. Succeeded actions
// are skipped since the server copy is already among confirmed.
func MergeQueued[T any](confirmed []T, actions []QueuedAction, kind string, synth func(QueuedAction) (T, bool)) []T {
	out := make([]T, 0, len(confirmed)+len(actions))
	for _, a := range actions {
		if a.Kind != kind || a.Status == StatusSucceeded {
			continue
		}
		if v, ok := synth(a); ok {
			out = append(out, v)
		}
	}
	return append(out, confirmed...)
}

// SynthesizeOrder builds the placeholder shown for a queued order.create.
func SynthesizeOrder(a QueuedAction) (Order, bool) {
	if a.Kind != KindOrderCreate {
		return Order{}, false
	}
	var in CreateOrderInput
	if len(a.Body) > 0 {
		if err := json.Unmarshal(a.Body, &in); err != nil {
			return Order{}, false
		}
	}
	status := OrderStatusPendingSync
	if a.Status == StatusFailed {
		status = OrderStatusSyncFailed
	}
	return Order{
		ID:         "local-" + a.ID,
		CustomerID: in.CustomerID,
		StationID:  in.StationID,
		DiscountID: in.DiscountID,
		Items:      in.Items,
		Total:      in.Total,
		Status:     status,
		Notes:      in.Notes,
		CreatedAt:  formatTime(a.Timestamp),
		Queued:     true,
		ActionID:   a.ID,
	}, true
}
