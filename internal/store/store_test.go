package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/agrilink-solutions/farm-trace-service/internal/crypto"
	"github.com/agrilink-solutions/farm-trace-service/internal/model"
)

// fakeRedis is an in-memory RedisClient covering the commands the store uses.
type fakeRedis struct {
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if val, ok := f.data[key]; ok {
		cmd.SetVal(val)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	switch v := value.(type) {
	case string:
		f.data[key] = v
	case []byte:
		f.data[key] = string(v)
	}
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeRedis) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range f.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	cmd.SetVal(keys)
	return cmd
}

func (f *fakeRedis) FlushAll(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	f.data = make(map[string]string)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (f *fakeRedis) Close() error { return nil }

func newTestStore(t *testing.T) (*Store, *fakeRedis) {
	t.Helper()
	sealer, err := crypto.NewSealer([]byte("0123456789abcdef"))
	assert.NoError(t, err)
	fake := newFakeRedis()
	return New(fake, sealer), fake
}

func TestPutGetTenantRoundTrip(t *testing.T) {
	st, fake := newTestStore(t)
	ctx := context.Background()

	tenant := &model.Tenant{
		TenantNum:       "T001",
		Name:            "示范农场",
		AppToken:        "appXYZ",
		AccessToken:     "pt-secret",
		AuthorizedCount: 5,
		RecordID:        "recT1",
	}
	assert.NoError(t, st.PutTenant(ctx, tenant))

	// The plaintext token never reaches the backing store.
	assert.NotContains(t, fake.data["tenant:T001"], "pt-secret")

	got, err := st.GetTenant(ctx, "T001")
	assert.NoError(t, err)
	assert.Equal(t, "pt-secret", got.AccessToken)
	assert.Equal(t, "示范农场", got.Name)
	assert.Equal(t, 5, got.AuthorizedCount)
}

func TestGetTenantMissingIsNil(t *testing.T) {
	st, _ := newTestStore(t)

	got, err := st.GetTenant(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutGetTablesRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	tables := map[string]model.TableSchema{
		"农户管理": {TableName: "农户管理", TableID: "tblA"},
		"饲喂记录": {
			TableName:        "饲喂记录",
			TableID:          "tblF",
			TimeFields:       map[string]string{"操作时间": "yyyy-MM-dd"},
			AttachmentFields: []string{"图片"},
		},
	}
	assert.NoError(t, st.PutTables(ctx, "T001", tables))

	got, err := st.GetTables(ctx, "T001")
	assert.NoError(t, err)
	assert.Equal(t, tables, got)
}

func TestPutFarmerSetTruncatesToQuota(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	err := st.PutFarmerSet(ctx, "T001", []string{"recA", "recB", "recC"}, 2)
	assert.NoError(t, err)

	set, err := st.GetFarmerSet(ctx, "T001")
	assert.NoError(t, err)
	assert.Equal(t, []string{"recA", "recB"}, set.FarmerIDs)
	assert.Equal(t, 3, set.TotalCount)
	assert.Equal(t, 2, set.AuthorizedCount)

	ok, err := st.IsFarmerAuthorized(ctx, "T001", "recB")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.IsFarmerAuthorized(ctx, "T001", "recC")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestPutFarmerSetNegativeQuotaMeansEmpty(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, st.PutFarmerSet(ctx, "T001", []string{"recA"}, -1))

	set, err := st.GetFarmerSet(ctx, "T001")
	assert.NoError(t, err)
	assert.Empty(t, set.FarmerIDs)
}

func TestIsFarmerAuthorizedUnknownTenant(t *testing.T) {
	st, _ := newTestStore(t)

	ok, err := st.IsFarmerAuthorized(context.Background(), "ghost", "recA")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestTenantNums(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	for _, num := range []string{"T001", "T002"} {
		assert.NoError(t, st.PutTenant(ctx, &model.Tenant{
			TenantNum: num, AppToken: "a", AccessToken: "t",
		}))
	}

	nums, err := st.TenantNums(ctx)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"T001", "T002"}, nums)
}

func TestCommitTenantWritesAllDocuments(t *testing.T) {
	st, fake := newTestStore(t)
	ctx := context.Background()

	tenant := &model.Tenant{
		TenantNum:       "T001",
		AppToken:        "appXYZ",
		AccessToken:     "pt-secret",
		AuthorizedCount: 2,
		LoadedAt:        time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	tables := map[string]model.TableSchema{
		"农户管理": {TableName: "农户管理", TableID: "tblA"},
	}
	assert.NoError(t, st.CommitTenant(ctx, tenant, tables, []string{"recA", "recB", "recC"}, 2))

	assert.Contains(t, fake.data, "tenant:T001")
	assert.Contains(t, fake.data, "tenant_tables:T001")
	assert.Contains(t, fake.data, "farmer_ids:T001")

	set, err := st.GetFarmerSet(ctx, "T001")
	assert.NoError(t, err)
	assert.Equal(t, []string{"recA", "recB"}, set.FarmerIDs)
	assert.Equal(t, tenant.LoadedAt, set.CachedAt)
}

func TestCommitTenantByteIdenticalForFixedClock(t *testing.T) {
	st, fake := newTestStore(t)
	ctx := context.Background()

	tenant := &model.Tenant{
		TenantNum:       "T001",
		AppToken:        "appXYZ",
		AccessToken:     "pt-secret",
		AuthorizedCount: 1,
		LoadedAt:        time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	tables := map[string]model.TableSchema{
		"农户管理": {TableName: "农户管理", TableID: "tblA"},
		"饲喂记录": {TableName: "饲喂记录", TableID: "tblF"},
	}

	assert.NoError(t, st.CommitTenant(ctx, tenant, tables, []string{"recA", "recB"}, 1))
	firstTables := fake.data["tenant_tables:T001"]
	firstFarmers := fake.data["farmer_ids:T001"]

	assert.NoError(t, st.CommitTenant(ctx, tenant, tables, []string{"recA", "recB"}, 1))
	assert.Equal(t, firstTables, fake.data["tenant_tables:T001"])
	assert.Equal(t, firstFarmers, fake.data["farmer_ids:T001"])
}

func TestClearTenantDropsAllDocuments(t *testing.T) {
	st, fake := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, st.PutTenant(ctx, &model.Tenant{TenantNum: "T001", AppToken: "a", AccessToken: "t"}))
	assert.NoError(t, st.PutTables(ctx, "T001", map[string]model.TableSchema{}))
	assert.NoError(t, st.PutFarmerSet(ctx, "T001", []string{"recA"}, 1))

	assert.NoError(t, st.ClearTenant(ctx, "T001"))
	assert.Empty(t, fake.data)
}
