package ownership

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexconsult/client/internal/model"
	"github.com/lexconsult/client/internal/repo"
)

// failingKV fails every call whose key is in failKeys
type failingKV struct {
	*repo.MemoryKV
	failKeys map[string]bool
}

var errDisk = errors.New("disk unavailable")

func (f *failingKV) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failKeys[key] {
		return "", false, errDisk
	}
	return f.MemoryKV.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if f.failKeys[key] {
		return errDisk
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func TestPrepend(t *testing.T) {
	assert.Equal(t, []string{"a"}, Prepend(nil, "a", 3))
	assert.Equal(t, []string{"c", "b", "a"}, Prepend([]string{"b", "a"}, "c", 3))
	assert.Equal(t, []string{"d", "c", "b"}, Prepend([]string{"c", "b", "a"}, "d", 3), "oldest evicted")
	assert.Equal(t, []string{"a", "c", "b"}, Prepend([]string{"c", "b", "a"}, "a", 3), "re-record moves to front")

	in := []string{"b", "a"}
	_ = Prepend(in, "c", 3)
	assert.Equal(t, []string{"b", "a"}, in, "input must not be modified")
}

func TestPrepend_invariantsOverRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var list []string
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("r%d", rng.Intn(250))
		list = Prepend(list, id, MaxEntries)

		require.Equal(t, id, list[0], "most recent id first")
		require.LessOrEqual(t, len(list), MaxEntries)
		seen := make(map[string]bool, len(list))
		for _, v := range list {
			require.False(t, seen[v], "duplicate %q", v)
			seen[v] = true
		}
	}
}

func TestIndex_recordWithoutPhone(t *testing.T) {
	ctx := context.Background()
	kv := repo.NewMemoryKV()
	ix := NewIndex(kv, nil)

	ix.Record(ctx, "42")

	raw, found, err := kv.Get(ctx, KeyDeviceList)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `["42"]`, raw)
	assert.Equal(t, []string{"42"}, ix.EffectiveIDs())
	assert.Equal(t, "", ix.Scope())
}

func TestIndex_recordWithPhone(t *testing.T) {
	ctx := context.Background()
	kv := repo.NewMemoryKV()
	ix := NewIndex(kv, nil)
	require.NoError(t, ix.SetVerifiedPhone(ctx, "+91 98765-43210"))

	ix.Record(ctx, "a")
	ix.Record(ctx, "b")

	raw, _, _ := kv.Get(ctx, "my_requests_919876543210")
	assert.JSONEq(t, `["b","a"]`, raw)
	raw, _, _ = kv.Get(ctx, KeyDeviceList)
	assert.JSONEq(t, `["b","a"]`, raw)
	assert.Equal(t, "919876543210", ix.Scope())
}

func TestIndex_capAndDedupAcrossRecords(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(repo.NewMemoryKV(), nil)
	for i := 0; i < MaxEntries+20; i++ {
		ix.Record(ctx, fmt.Sprintf("%d", i))
	}
	ix.Record(ctx, "119")
	ix.Reload(ctx)

	ids := ix.EffectiveIDs()
	assert.Len(t, ids, MaxEntries)
	assert.Equal(t, "119", ids[0])
	assert.Equal(t, "20", ids[len(ids)-1], "ids 0..19 evicted")
}

func TestIndex_effectiveIDsPrefersPhoneList(t *testing.T) {
	ctx := context.Background()
	kv := repo.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, KeyDeviceList, `["d1","d2"]`))
	require.NoError(t, kv.Set(ctx, KeyVerifiedPhone, "919876543210"))
	require.NoError(t, kv.Set(ctx, "my_requests_919876543210", `["p1"]`))

	ix := NewIndex(kv, nil)
	ix.Reload(ctx)
	assert.Equal(t, []string{"p1"}, ix.EffectiveIDs())
	assert.Equal(t, []string{"d1", "d2"}, ix.DeviceIDs())

	// a known phone with no list yet still wins over the device list
	require.NoError(t, kv.Delete(ctx, "my_requests_919876543210"))
	ix.Reload(ctx)
	assert.Empty(t, ix.EffectiveIDs())
}

func TestIndex_reloadSeesRecordsFromAnotherInstance(t *testing.T) {
	ctx := context.Background()
	kv := repo.NewMemoryKV()
	listScreen := NewIndex(kv, nil)
	listScreen.Reload(ctx)
	assert.Empty(t, listScreen.EffectiveIDs())

	NewIndex(kv, nil).Record(ctx, "42")

	listScreen.Reload(ctx)
	assert.Equal(t, []string{"42"}, listScreen.EffectiveIDs())
}

func TestIndex_clearDeviceKeepsPhoneList(t *testing.T) {
	ctx := context.Background()
	kv := repo.NewMemoryKV()
	ix := NewIndex(kv, nil)
	require.NoError(t, ix.SetVerifiedPhone(ctx, "919876543210"))
	ix.Record(ctx, "42")

	require.NoError(t, ix.ClearDevice(ctx))

	_, found, _ := kv.Get(ctx, KeyDeviceList)
	assert.False(t, found)
	raw, found, _ := kv.Get(ctx, "my_requests_919876543210")
	require.True(t, found)
	assert.JSONEq(t, `["42"]`, raw)
}

func TestIndex_filter(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(repo.NewMemoryKV(), nil)
	ix.Record(ctx, "2")
	ix.Record(ctx, "abc")

	items := []model.ConsultationRequest{
		{ID: model.ID{Value: "1", Numeric: true}},
		{ID: model.ID{Value: "2", Numeric: true}},
		{ID: model.StringID("3")},
		{ID: model.StringID("abc")},
		{ID: model.StringID("xyz")},
	}
	mine := ix.Filter(items)
	require.Len(t, mine, 2)
	assert.Equal(t, "2", mine[0].ID.String(), "remote order preserved")
	assert.Equal(t, "abc", mine[1].ID.String())

	assert.Nil(t, NewIndex(repo.NewMemoryKV(), nil).Filter(items), "no ids, nothing is mine")
}

func TestIndex_recordSwallowsStorageErrors(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryKV: repo.NewMemoryKV(), failKeys: map[string]bool{KeyDeviceList: true}}
	require.NoError(t, kv.MemoryKV.Set(ctx, KeyVerifiedPhone, "919876543210"))

	ix := NewIndex(kv, nil)
	assert.NotPanics(t, func() { ix.Record(ctx, "42") })

	raw, found, _ := kv.MemoryKV.Get(ctx, "my_requests_919876543210")
	require.True(t, found, "phone list is still written when the device list fails")
	assert.JSONEq(t, `["42"]`, raw)
}

func TestIndex_corruptListIsReplaced(t *testing.T) {
	ctx := context.Background()
	kv := repo.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, KeyDeviceList, "{oops"))

	ix := NewIndex(kv, nil)
	ix.Reload(ctx)
	assert.Empty(t, ix.EffectiveIDs())

	ix.Record(ctx, "7")
	raw, _, _ := kv.Get(ctx, KeyDeviceList)
	assert.JSONEq(t, `["7"]`, raw)
}

func TestIndex_reloadStorageErrorDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryKV: repo.NewMemoryKV(), failKeys: map[string]bool{KeyVerifiedPhone: true, KeyDeviceList: true}}
	ix := NewIndex(kv, nil)
	ix.Reload(ctx)
	assert.Empty(t, ix.EffectiveIDs())
	assert.Equal(t, "", ix.Scope())
}

func TestPhoneListKey(t *testing.T) {
	assert.Equal(t, "my_requests_919876543210", PhoneListKey("+91 98765-43210"))
	assert.Equal(t, PhoneListKey("0091 98765 43210"), PhoneListKey("+91 (98765) 43210"))
}
