// Package ownership tracks, on this device, which consultation requests the
// user submitted. The gateway gives no per-user listing guarantee, so the
// "My Requests" view narrows the remote list by these identifiers.
package ownership

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lexconsult/client/internal/model"
	"github.com/lexconsult/client/internal/phone"
	"github.com/lexconsult/client/internal/repo"
)

// MaxEntries caps each identifier list; the oldest entries are evicted first
const MaxEntries = 100

// Durable storage keys
const (
	KeyVerifiedPhone = "user_mobile"
	KeyDeviceList    = "my_requests__local__"
	phoneListPrefix  = "my_requests_"
)

// PhoneListKey returns the storage key of the phone-scoped list
func PhoneListKey(rawPhone string) string {
	return phoneListPrefix + phone.Normalize(rawPhone)
}

// Prepend returns list with id at the front, any earlier occurrence removed
// and at most max entries kept. The input slice is not modified.
func Prepend(list []string, id string, max int) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, id)
	for _, existing := range list {
		if existing == id {
			continue
		}
		if len(out) >= max {
			break
		}
		out = append(out, existing)
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// Index is the local ownership index. It keeps an in-memory snapshot that
// Reload refreshes from storage.
type Index struct {
	kv     repo.KVRepo
	logger *slog.Logger

	mu        sync.RWMutex
	phone     string
	phoneIDs  []string
	deviceIDs []string
}

// NewIndex creates an ownership index backed by kv
func NewIndex(kv repo.KVRepo, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{kv: kv, logger: logger}
}

// Record remembers id as submitted from this device, and for the verified
// phone when one is known. Failures are logged and never returned: a missing
// entry only narrows the "My Requests" view.
func (ix *Index) Record(ctx context.Context, id string) {
	if id == "" {
		return
	}

	verified, err := ix.verifiedPhone(ctx)
	if err != nil {
		ix.logger.Warn("ownership record: read verified phone", "err", err)
	}

	deviceIDs, err := ix.prependStored(ctx, KeyDeviceList, id)
	if err != nil {
		ix.logger.Warn("ownership record: device list", "request_id", id, "err", err)
	}

	var phoneIDs []string
	if verified != "" {
		phoneIDs, err = ix.prependStored(ctx, PhoneListKey(verified), id)
		if err != nil {
			ix.logger.Warn("ownership record: phone list", "request_id", id, "phone", phone.Mask(verified), "err", err)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if deviceIDs != nil {
		ix.deviceIDs = deviceIDs
	}
	if verified != "" {
		ix.phone = verified
		if phoneIDs != nil {
			ix.phoneIDs = phoneIDs
		}
	}
}

func (ix *Index) prependStored(ctx context.Context, key, id string) ([]string, error) {
	list, err := ix.readList(ctx, key)
	if err != nil {
		// a corrupt list is replaced rather than blocking new entries
		ix.logger.Warn("ownership: discarding unreadable list", "key", key, "err", err)
		list = nil
	}
	list = Prepend(list, id, MaxEntries)
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	if err := ix.kv.Set(ctx, key, string(raw)); err != nil {
		return nil, err
	}
	return list, nil
}

func (ix *Index) readList(ctx context.Context, key string) ([]string, error) {
	raw, found, err := ix.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found || raw == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return list, nil
}

func (ix *Index) verifiedPhone(ctx context.Context) (string, error) {
	raw, found, err := ix.kv.Get(ctx, KeyVerifiedPhone)
	if err != nil || !found {
		return "", err
	}
	return phone.Normalize(raw), nil
}

// Reload re-reads the verified phone and both lists from storage. Call it
// every time the request list is shown: another screen may have recorded an id.
func (ix *Index) Reload(ctx context.Context) {
	verified, err := ix.verifiedPhone(ctx)
	if err != nil {
		ix.logger.Warn("ownership reload: verified phone", "err", err)
	}

	var phoneIDs []string
	if verified != "" {
		if phoneIDs, err = ix.readList(ctx, PhoneListKey(verified)); err != nil {
			ix.logger.Warn("ownership reload: phone list", "phone", phone.Mask(verified), "err", err)
			phoneIDs = nil
		}
	}

	deviceIDs, err := ix.readList(ctx, KeyDeviceList)
	if err != nil {
		ix.logger.Warn("ownership reload: device list", "err", err)
		deviceIDs = nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.phone, ix.phoneIDs, ix.deviceIDs = verified, phoneIDs, deviceIDs
}

// EffectiveIDs returns the phone-scoped list when a verified phone is known,
// otherwise the device-scoped list.
func (ix *Index) EffectiveIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.phone != "" {
		return append([]string(nil), ix.phoneIDs...)
	}
	return append([]string(nil), ix.deviceIDs...)
}

// DeviceIDs returns the device-scoped list as last loaded
func (ix *Index) DeviceIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]string(nil), ix.deviceIDs...)
}

// Scope returns the verified phone the view is linked to, or "" for this device
func (ix *Index) Scope() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.phone
}

// Filter keeps the requests whose id is in EffectiveIDs, in their original order
func (ix *Index) Filter(items []model.ConsultationRequest) []model.ConsultationRequest {
	ids := ix.EffectiveIDs()
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	var mine []model.ConsultationRequest
	for _, item := range items {
		if _, ok := set[item.ID.String()]; ok {
			mine = append(mine, item)
		}
	}
	return mine
}

// SetVerifiedPhone persists the phone number verified at login
func (ix *Index) SetVerifiedPhone(ctx context.Context, rawPhone string) error {
	normalized := phone.Normalize(rawPhone)
	if err := ix.kv.Set(ctx, KeyVerifiedPhone, normalized); err != nil {
		return fmt.Errorf("persist verified phone: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.phone != normalized {
		// the phone list for a different number has not been loaded yet
		ix.phoneIDs = nil
	}
	ix.phone = normalized
	return nil
}

// ClearDevice drops the device-scoped list so a new login on a shared device
// does not see the previous user's requests. The phone-scoped lists are kept.
func (ix *Index) ClearDevice(ctx context.Context) error {
	ix.mu.Lock()
	ix.deviceIDs = nil
	ix.mu.Unlock()
	if err := ix.kv.Delete(ctx, KeyDeviceList); err != nil {
		return fmt.Errorf("clear device list: %w", err)
	}
	return nil
}
