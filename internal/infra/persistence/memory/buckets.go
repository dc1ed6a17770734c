package memory

import (
	"encoding/json"
	"fmt"
)

// Snapshot bucket names used by the snapshotting persistent stores.
const (
	BucketWorklists   = "worklists"
	BucketAssignments = "assignments"
	BucketLots        = "lots"
	BucketResults     = "results"
)

// Buckets lists every snapshot bucket in persistence order.
var Buckets = []string{BucketWorklists, BucketAssignments, BucketLots, BucketResults}

// EncodeBuckets marshals every bucket of the snapshot to JSON.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case BucketWorklists:
			data, err = json.Marshal(s.Worklists)
		case BucketAssignments:
			data, err = json.Marshal(s.Assignments)
		case BucketLots:
			data, err = json.Marshal(s.Lots)
		case BucketResults:
			data, err = json.Marshal(s.Results)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals one persisted bucket into the snapshot. Unknown
// buckets and empty payloads are ignored.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketWorklists:
		target = &s.Worklists
	case BucketAssignments:
		target = &s.Assignments
	case BucketLots:
		target = &s.Lots
	case BucketResults:
		target = &s.Results
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
