package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/bitable"
	"github.com/agrilink-solutions/farm-trace-service/internal/model"
	"github.com/agrilink-solutions/farm-trace-service/internal/monitoring"
	"github.com/agrilink-solutions/farm-trace-service/internal/store"
)

// Column names of the system authorization table. The operators maintain it
// in the remote service, one row per paying tenant.
const (
	fieldTenantNum       = "编号"
	fieldTenantName      = "租户名称"
	fieldAppToken        = "APP_TOKEN"
	fieldAccessToken     = "PERSONAL_BASE_TOKEN"
	fieldAuthorizedCount = "授权农户数量"
)

// DefaultSystemTable is the authorization table's display name.
const DefaultSystemTable = "授权列表"

// DefaultFarmerTable is the per-tenant farmer roster table.
const DefaultFarmerTable = "农户管理"

// ClientFactory builds a tenant-scoped remote client from a credential pair.
type ClientFactory func(appToken, accessToken string) (*bitable.Client, error)

type tenantState struct {
	client *bitable.Client
	schema *bitable.Schema
}

// Registry holds the live tenant population: per-tenant remote clients and
// schemas in memory, durable documents in the store. Reload rebuilds it from
// the system authorization table; lookups never touch the remote registry
// between reloads.
type Registry struct {
	store        *store.Store
	newClient    ClientFactory
	systemClient *bitable.Client
	systemTable  string
	farmerTable  string
	handlers     *HandlerTable

	mu      sync.RWMutex
	tenants map[string]*tenantState

	now    func() time.Time
	loaded atomic.Bool
}

// New creates a Registry over the given store and system-base client.
func New(st *store.Store, systemClient *bitable.Client, factory ClientFactory) *Registry {
	return &Registry{
		store:        st,
		newClient:    factory,
		systemClient: systemClient,
		systemTable:  DefaultSystemTable,
		farmerTable:  DefaultFarmerTable,
		handlers:     NewHandlerTable(),
		tenants:      make(map[string]*tenantState),
		now:          time.Now,
	}
}

// SetSystemTable overrides the authorization table name. Call before the
// first Reload.
func (r *Registry) SetSystemTable(name string) {
	if name != "" {
		r.systemTable = name
	}
}

// Handlers exposes the per-table record hook registry.
func (r *Registry) Handlers() *HandlerTable {
	return r.handlers
}

// Loaded reports whether at least one reload completed with any tenant.
func (r *Registry) Loaded() bool {
	return r.loaded.Load()
}

// Reload rebuilds the tenant population from the system authorization table.
// Individual tenant failures are logged and skipped so one broken credential
// row cannot take down the rest of the fleet. Reload is safe to run
// concurrently with lookups; each tenant is committed atomically.
func (r *Registry) Reload(ctx context.Context) error {
	start := r.now()

	tables, err := r.systemClient.ListTables(ctx)
	if err != nil {
		monitoring.CacheReloads.WithLabelValues("failure").Inc()
		return fmt.Errorf("listing system tables: %w", err)
	}
	sysTableID, ok := tables[r.systemTable]
	if !ok {
		monitoring.CacheReloads.WithLabelValues("failure").Inc()
		return fmt.Errorf("system table %q: %w", r.systemTable, bitable.ErrUnknownTable)
	}

	rows, err := r.systemClient.ListRecords(ctx, sysTableID)
	if err != nil {
		monitoring.CacheReloads.WithLabelValues("failure").Inc()
		return fmt.Errorf("listing tenant rows: %w", err)
	}

	var okCount, skipped int
	for _, row := range rows {
		tenant, err := parseTenantRow(row)
		if err != nil {
			log.Warn().Err(err).Str("record_id", row.RecordID).Msg("Skipping malformed tenant row")
			skipped++
			continue
		}
		if err := r.loadTenant(ctx, tenant); err != nil {
			log.Warn().Err(err).Str("tenant", tenant.TenantNum).Msg("Skipping tenant, load failed")
			skipped++
			continue
		}
		okCount++
	}

	elapsed := time.Since(start)
	monitoring.ReloadDuration.Observe(elapsed.Seconds())
	if okCount > 0 {
		r.loaded.Store(true)
		monitoring.CacheReloads.WithLabelValues("success").Inc()
	} else {
		monitoring.CacheReloads.WithLabelValues("failure").Inc()
	}

	log.Info().
		Int("tenants", okCount).
		Int("skipped", skipped).
		Dur("elapsed", elapsed).
		Msg("Tenant registry reloaded")

	if okCount == 0 && len(rows) > 0 {
		return fmt.Errorf("reload produced no usable tenants out of %d rows", len(rows))
	}
	return nil
}

// loadTenant builds the tenant's client and schema, refreshes its farmer
// allow-list and commits all three cache documents as one store transaction.
// The store commit happens before the in-memory swap so a crash never leaves
// memory ahead of the cache.
func (r *Registry) loadTenant(ctx context.Context, tenant *model.Tenant) error {
	client, err := r.newClient(tenant.AppToken, tenant.AccessToken)
	if err != nil {
		return err
	}

	schema := bitable.BuildSchema(ctx, client)

	farmerIDs, err := r.listFarmerIDs(ctx, client, schema)
	if err != nil {
		return fmt.Errorf("listing farmers: %w", err)
	}

	tenant.LoadedAt = r.now().UTC()

	if err := r.store.CommitTenant(ctx, tenant, schema.Tables(), farmerIDs, tenant.AuthorizedCount); err != nil {
		return err
	}

	r.mu.Lock()
	r.tenants[tenant.TenantNum] = &tenantState{client: client, schema: schema}
	r.mu.Unlock()
	return nil
}

func (r *Registry) listFarmerIDs(ctx context.Context, client *bitable.Client, schema *bitable.Schema) ([]string, error) {
	tableID, err := schema.Resolve(r.farmerTable)
	if err != nil {
		return nil, err
	}
	records, err := client.ListRecords(ctx, tableID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.RecordID != "" {
			ids = append(ids, rec.RecordID)
		}
	}
	return ids, nil
}

func parseTenantRow(row bitable.Record) (*model.Tenant, error) {
	num := stringField(row.Fields[fieldTenantNum])
	appToken := stringField(row.Fields[fieldAppToken])
	accessToken := stringField(row.Fields[fieldAccessToken])
	if num == "" {
		return nil, fmt.Errorf("missing %s", fieldTenantNum)
	}
	if appToken == "" || accessToken == "" {
		return nil, fmt.Errorf("tenant %s: %w", num, bitable.ErrMisconfigured)
	}
	return &model.Tenant{
		TenantNum:       num,
		Name:            stringField(row.Fields[fieldTenantName]),
		AppToken:        appToken,
		AccessToken:     accessToken,
		AuthorizedCount: intField(row.Fields[fieldAuthorizedCount]),
		RecordID:        row.RecordID,
	}, nil
}

// stringField flattens the remote cell representations into a plain string.
// Text cells arrive either as strings, numbers, or segment lists of
// {"text": ...} objects.
func stringField(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		var b strings.Builder
		for _, item := range v {
			if seg, ok := item.(map[string]any); ok {
				if text, ok := seg["text"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		return strings.TrimSpace(b.String())
	default:
		return ""
	}
}

func intField(raw any) int {
	switch v := raw.(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Tenant returns the cached tenant document, or nil when unknown.
func (r *Registry) Tenant(ctx context.Context, tenantNum string) (*model.Tenant, error) {
	return r.store.GetTenant(ctx, tenantNum)
}

// IsAuthorized reports whether the farmer sits inside the tenant's quota
// allow-list. Denials are counted for the operators.
func (r *Registry) IsAuthorized(ctx context.Context, tenantNum, farmerID string) (bool, error) {
	ok, err := r.store.IsFarmerAuthorized(ctx, tenantNum, farmerID)
	if err != nil {
		return false, err
	}
	if !ok {
		monitoring.AuthorizationDenials.Inc()
	}
	return ok, nil
}

// ClientFor returns the tenant's live remote client and schema.
func (r *Registry) ClientFor(tenantNum string) (*bitable.Client, *bitable.Schema, error) {
	r.mu.RLock()
	state, ok := r.tenants[tenantNum]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("tenant %s: %w", tenantNum, bitable.ErrNotFound)
	}
	return state.client, state.schema, nil
}

// Tables returns the tenant's cached table schemas keyed by display name.
func (r *Registry) Tables(ctx context.Context, tenantNum string) (map[string]model.TableSchema, error) {
	tables, err := r.store.GetTables(ctx, tenantNum)
	if err != nil {
		return nil, err
	}
	if tables == nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantNum, bitable.ErrNotFound)
	}
	return tables, nil
}

// Stats summarizes the cached tenant population for the operator endpoint.
func (r *Registry) Stats(ctx context.Context) (*model.RegistryStats, error) {
	nums, err := r.store.TenantNums(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.RegistryStats{Tenants: make([]model.TenantStat, 0, len(nums))}
	for _, num := range nums {
		tenant, err := r.store.GetTenant(ctx, num)
		if err != nil || tenant == nil {
			continue
		}
		entry := model.TenantStat{
			TenantNum:       tenant.TenantNum,
			Name:            tenant.Name,
			AuthorizedCount: tenant.AuthorizedCount,
		}
		if set, err := r.store.GetFarmerSet(ctx, num); err == nil && set != nil {
			entry.FarmerCount = len(set.FarmerIDs)
		}
		stats.Tenants = append(stats.Tenants, entry)
	}
	stats.TotalTenants = len(stats.Tenants)
	return stats, nil
}
