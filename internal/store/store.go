package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/crypto"
	"github.com/agrilink-solutions/farm-trace-service/internal/model"
)

// Key prefixes for the three cached document kinds. Everything under them is
// rewritten wholesale on registry reload.
const (
	tenantPrefix  = "tenant:"
	tablesPrefix  = "tenant_tables:"
	farmersPrefix = "farmer_ids:"
)

// RedisClient abstracts the redis commands the store needs, so tests can run
// against an in-memory fake.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	FlushAll(ctx context.Context) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Store persists tenant metadata, table schemas and farmer allow-lists in
// redis. Access tokens are sealed before they touch the wire. Write
// transactions (one tenant's commit, a tenant clear, a full clear) hold the
// write lock for their whole key set; readers take the read lock, so they
// always see a fully committed tenant snapshot.
type Store struct {
	redis  RedisClient
	sealer *crypto.Sealer
	mutex  sync.RWMutex
	now    func() time.Time
}

// New creates a Store on an existing redis client.
func New(client RedisClient, sealer *crypto.Sealer) *Store {
	return &Store{redis: client, sealer: sealer, now: time.Now}
}

// NewRedis creates a Store with its own redis connection.
func NewRedis(addr, password string, db int, sealer *crypto.Sealer) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return New(client, sealer)
}

// CommitTenant writes a tenant's three cache documents as one locked write
// transaction, so a reader never pairs a tenant document from one reload
// with a farmer set from another. Both derived documents are stamped from
// the tenant's LoadedAt; an unchanged reload with a fixed clock therefore
// produces identical table and farmer-set bytes.
func (s *Store) CommitTenant(ctx context.Context, tenant *model.Tenant, tables map[string]model.TableSchema, farmerIDs []string, authorizedCount int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	at := tenant.LoadedAt
	if at.IsZero() {
		at = s.now().UTC()
	}

	if err := s.putTenant(ctx, tenant); err != nil {
		return err
	}
	if err := s.putTables(ctx, tenant.TenantNum, tables, at); err != nil {
		return err
	}
	return s.putFarmerSet(ctx, tenant.TenantNum, farmerIDs, authorizedCount, at)
}

// PutTenant seals the tenant's access token and writes the tenant document.
func (s *Store) PutTenant(ctx context.Context, tenant *model.Tenant) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.putTenant(ctx, tenant)
}

func (s *Store) putTenant(ctx context.Context, tenant *model.Tenant) error {
	sealed, nonce, err := s.sealer.Seal(tenant.AccessToken)
	if err != nil {
		return fmt.Errorf("sealing access token for tenant %s: %w", tenant.TenantNum, err)
	}

	doc := *tenant
	doc.AccessToken = ""
	doc.SealedToken = sealed
	doc.SealedTokenIV = nonce

	payload, err := json.Marshal(&doc)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, tenantPrefix+tenant.TenantNum, payload, 0).Err()
}

// GetTenant reads one tenant document and unseals its access token. A missing
// tenant returns (nil, nil).
func (s *Store) GetTenant(ctx context.Context, tenantNum string) (*model.Tenant, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	raw, err := s.redis.Get(ctx, tenantPrefix+tenantNum).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tenant model.Tenant
	if err := json.Unmarshal(raw, &tenant); err != nil {
		return nil, fmt.Errorf("decoding tenant %s: %w", tenantNum, err)
	}

	token, err := s.sealer.Open(tenant.SealedToken, tenant.SealedTokenIV)
	if err != nil {
		return nil, fmt.Errorf("unsealing access token for tenant %s: %w", tenantNum, err)
	}
	tenant.AccessToken = token
	return &tenant, nil
}

type tablesDoc struct {
	Tables   map[string]model.TableSchema `json:"tables"`
	CachedAt time.Time                    `json:"cached_at"`
}

// PutTables writes the tenant's table schema snapshot.
func (s *Store) PutTables(ctx context.Context, tenantNum string, tables map[string]model.TableSchema) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.putTables(ctx, tenantNum, tables, s.now().UTC())
}

func (s *Store) putTables(ctx context.Context, tenantNum string, tables map[string]model.TableSchema, at time.Time) error {
	payload, err := json.Marshal(&tablesDoc{Tables: tables, CachedAt: at})
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, tablesPrefix+tenantNum, payload, 0).Err()
}

// GetTables reads the tenant's table schema snapshot. Missing returns
// (nil, nil).
func (s *Store) GetTables(ctx context.Context, tenantNum string) (map[string]model.TableSchema, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	raw, err := s.redis.Get(ctx, tablesPrefix+tenantNum).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc tablesDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding tables for tenant %s: %w", tenantNum, err)
	}
	return doc.Tables, nil
}

// PutFarmerSet truncates the farmer id list to the tenant's paid quota and
// writes the allow-list document. Ordering follows the remote listing, so
// the quota always keeps the same leading ids.
func (s *Store) PutFarmerSet(ctx context.Context, tenantNum string, farmerIDs []string, authorizedCount int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.putFarmerSet(ctx, tenantNum, farmerIDs, authorizedCount, s.now().UTC())
}

func (s *Store) putFarmerSet(ctx context.Context, tenantNum string, farmerIDs []string, authorizedCount int, at time.Time) error {
	if authorizedCount < 0 {
		authorizedCount = 0
	}
	total := len(farmerIDs)
	if authorizedCount < total {
		log.Warn().
			Str("tenant", tenantNum).
			Int("farmers", total).
			Int("quota", authorizedCount).
			Msg("Farmer list exceeds authorized quota, truncating")
		farmerIDs = farmerIDs[:authorizedCount]
	}

	doc := model.AuthorizedFarmerSet{
		TenantNum:       tenantNum,
		FarmerIDs:       farmerIDs,
		TotalCount:      total,
		AuthorizedCount: authorizedCount,
		CachedAt:        at,
	}

	payload, err := json.Marshal(&doc)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, farmersPrefix+tenantNum, payload, 0).Err()
}

// GetFarmerSet reads the tenant's farmer allow-list. Missing returns
// (nil, nil).
func (s *Store) GetFarmerSet(ctx context.Context, tenantNum string) (*model.AuthorizedFarmerSet, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	raw, err := s.redis.Get(ctx, farmersPrefix+tenantNum).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc model.AuthorizedFarmerSet
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding farmer set for tenant %s: %w", tenantNum, err)
	}
	return &doc, nil
}

// IsFarmerAuthorized reports whether the farmer id sits inside the tenant's
// truncated allow-list. Unknown tenants are unauthorized.
func (s *Store) IsFarmerAuthorized(ctx context.Context, tenantNum, farmerID string) (bool, error) {
	set, err := s.GetFarmerSet(ctx, tenantNum)
	if err != nil {
		return false, err
	}
	return set.Contains(farmerID), nil
}

// TenantNums lists the tenant numbers currently cached.
func (s *Store) TenantNums(ctx context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys, err := s.redis.Keys(ctx, tenantPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	nums := make([]string, 0, len(keys))
	for _, key := range keys {
		nums = append(nums, key[len(tenantPrefix):])
	}
	return nums, nil
}

// ClearTenant drops all three documents of one tenant.
func (s *Store) ClearTenant(ctx context.Context, tenantNum string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.redis.Del(ctx,
		tenantPrefix+tenantNum,
		tablesPrefix+tenantNum,
		farmersPrefix+tenantNum,
	).Err()
}

// Clear drops the whole cache. Only used by operator tooling.
func (s *Store) Clear(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.redis.FlushAll(ctx).Err()
}

// Ping verifies the redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.redis.Close()
}
