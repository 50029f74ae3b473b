// Package queue provides batch queue implementations. The memory
// subpackage backs single-process deployments; the pubsub subpackage
// carries batches between the API and a separate worker fleet. Both
// satisfy extraction.Queue.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// Message attribute keys shared by the Pub/Sub queue and its consumers.
const (
	AttrBatchID       = "batch_id"
	AttrSchemaVersion = "schema_version"
)

// SchemaVersion is stamped on every published queue message so consumers
// can reject envelopes from incompatible binaries.
const SchemaVersion = "1"

// EncodeItem serializes a queue item for transport.
func EncodeItem(item extraction.QueueItem) ([]byte, error) {
	if item.BatchID == "" {
		return nil, fmt.Errorf("queue item batch id is required")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode queue item: %w", err)
	}
	return data, nil
}

// DecodeItem parses a transported queue item.
func DecodeItem(data []byte) (extraction.QueueItem, error) {
	var item extraction.QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return extraction.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
	}
	if item.BatchID == "" {
		return extraction.QueueItem{}, fmt.Errorf("queue item batch id is missing")
	}
	return item, nil
}
