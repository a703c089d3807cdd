package model

import "time"

// Tenant is one row of the system authorization table. A tenant is replaced
// wholesale on every registry reload and looked up by TenantNum only.
type Tenant struct {
	TenantNum       string    `json:"tenant_num"`
	Name            string    `json:"tenant_name"`
	AppToken        string    `json:"app_token"`
	AccessToken     string    `json:"-"` // Plaintext (transient, sealed before caching)
	SealedToken     []byte    `json:"sealed_token"`
	SealedTokenIV   []byte    `json:"sealed_token_iv"`
	AuthorizedCount int       `json:"authorized_count"`
	RecordID        string    `json:"record_id"`
	LoadedAt        time.Time `json:"loaded_at"`
}

// TableSchema is the cached metadata for one (tenant, table) pair: the remote
// table id plus the fields that need rewriting when records are served.
type TableSchema struct {
	TableName        string            `json:"table_name"`
	TableID          string            `json:"table_id"`
	TimeFields       map[string]string `json:"time_fields,omitempty"`
	AttachmentFields []string          `json:"attachment_fields,omitempty"`
}

// HasFormatting reports whether serving records from this table requires any
// field rewriting at all.
func (s TableSchema) HasFormatting() bool {
	return len(s.TimeFields) > 0 || len(s.AttachmentFields) > 0
}

// IsAttachment reports whether the named field is attachment-typed.
func (s TableSchema) IsAttachment(field string) bool {
	for _, f := range s.AttachmentFields {
		if f == field {
			return true
		}
	}
	return false
}

// AuthorizedFarmerSet is the quota-truncated allow-list of farmer record ids
// for one tenant. FarmerIDs preserves remote order and holds at most
// AuthorizedCount entries.
type AuthorizedFarmerSet struct {
	TenantNum       string    `json:"tenant_num"`
	FarmerIDs       []string  `json:"farmer_ids"`
	TotalCount      int       `json:"total_count"`
	AuthorizedCount int       `json:"authorized_count"`
	CachedAt        time.Time `json:"cached_at"`
}

// Contains reports whether the farmer id is inside the truncated allow-list.
func (s *AuthorizedFarmerSet) Contains(farmerID string) bool {
	if s == nil {
		return false
	}
	for _, id := range s.FarmerIDs {
		if id == farmerID {
			return true
		}
	}
	return false
}

// SensorReading is one decoded humidity/temperature pair from an IoT gateway.
type SensorReading struct {
	Humidity    string `json:"humidity"`
	Temperature string `json:"temperature"`
}

// FarmStatistics are the computed counts attached to a complete farmer record.
type FarmStatistics struct {
	FeedingCount int `json:"feeding_count"`
	ProcessCount int `json:"process_count"`
}

// FeedingRecord is one formatted row of a tenant's feeding log.
type FeedingRecord struct {
	FoodName      any `json:"food_name"`
	Operator      any `json:"operator"`
	OperationTime any `json:"operation_time"`
	Images        any `json:"images"`
	CreatedTime   any `json:"created_time"`
	UpdatedTime   any `json:"updated_time"`
}

// ProcessRecord is one formatted row of a tenant's breeding process log.
type ProcessRecord struct {
	ProcessName   any `json:"process_name"`
	Operator      any `json:"operator"`
	OperationTime any `json:"operation_time"`
	Images        any `json:"images"`
	CreatedTime   any `json:"created_time"`
	UpdatedTime   any `json:"updated_time"`
}

// FarmInfo is the user-facing aggregate for one farmer: profile fields,
// the current sensor snapshot and the formatted log sections.
type FarmInfo struct {
	Sensor          map[string]string `json:"sensor"`
	ProductInfo     map[string]any    `json:"product_info"`
	FeedingRecords  []FeedingRecord   `json:"feeding_records"`
	BreedingProcess []ProcessRecord   `json:"breeding_process"`
	Statistics      FarmStatistics    `json:"statistics"`
}

// TenantStat is one tenant's entry in the operator-facing stats view.
type TenantStat struct {
	TenantNum       string `json:"tenant_num"`
	Name            string `json:"tenant_name"`
	AuthorizedCount int    `json:"authorized_count"`
	FarmerCount     int    `json:"farmer_count"`
}

// RegistryStats summarizes the currently cached tenant population.
type RegistryStats struct {
	TotalTenants int          `json:"total_tenants"`
	Tenants      []TenantStat `json:"tenants"`
}
