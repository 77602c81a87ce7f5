package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/relaychat/internal/store"
)

// Version is stamped on every event this build emits.
const Version = "0.1.0"

const (
	bucketContractInfo = "contract_info"
	keyContractInfo    = "info"
)

var ErrKindMismatch = errors.New("contract: stored contract kind mismatch")

// Kind names which contract owns a store.
type Kind string

const (
	KindHub   Kind = "hub"
	KindSpoke Kind = "spoke"
)

// Info is the persisted identity of a contract instance.
type Info struct {
	Kind    Kind   `json:"contract"`
	Version string `json:"version"`
}

// Instantiate loads the stored Info for kind, or saves a fresh one.
// A store that already belongs to another kind is rejected. A stored
// version older than Version is upgraded in place.
func Instantiate(ctx context.Context, st store.Store, kind Kind) (Info, error) {
	raw, err := st.Get(ctx, bucketContractInfo, keyContractInfo)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Info{}, err
	default:
		var existing Info
		if err := json.Unmarshal(raw, &existing); err != nil {
			return Info{}, fmt.Errorf("contract: decode info: %w", err)
		}
		if existing.Kind != kind {
			return Info{}, fmt.Errorf("%w: stored %q, want %q", ErrKindMismatch, existing.Kind, kind)
		}
		if existing.Version == Version {
			return existing, nil
		}
	}
	info := Info{Kind: kind, Version: Version}
	raw, err = json.Marshal(info)
	if err != nil {
		return Info{}, err
	}
	if err := st.Put(ctx, bucketContractInfo, keyContractInfo, raw); err != nil {
		return Info{}, err
	}
	return info, nil
}
