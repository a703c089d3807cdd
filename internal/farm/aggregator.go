package farm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/bitable"
	"github.com/agrilink-solutions/farm-trace-service/internal/format"
	"github.com/agrilink-solutions/farm-trace-service/internal/model"
	"github.com/agrilink-solutions/farm-trace-service/internal/registry"
)

// Per-tenant table and field display names the aggregator reads from. Every
// tenant base follows the same template, maintained by the operators.
const (
	sensorTable  = "传感器"
	feedingTable = "饲喂记录"
	processTable = "养殖流程"

	sensorNameField  = "名称"
	sensorDataField  = "数据"
	sensorValueField = "数值"

	farmerLinkField  = "饲养农户"
	farmerMatchField = "农户"

	foodField     = "食物"
	processField  = "流程"
	operatorField = "操作人"
	opTimeField   = "操作时间"
	imagesField   = "图片"
	createdField  = "创建"
	updatedField  = "更新"
)

// Aggregator assembles the complete consumer-facing view of one farmer:
// profile, live sensor snapshot and the formatted feeding/process logs.
type Aggregator struct {
	registry  *registry.Registry
	formatter *format.Formatter
}

// NewAggregator wires an Aggregator over the tenant registry.
func NewAggregator(reg *registry.Registry, formatter *format.Formatter) *Aggregator {
	return &Aggregator{registry: reg, formatter: formatter}
}

// CompleteInfo builds the full traceability document for one farmer record.
// The quota allow-list is checked before any remote call; unauthorized
// farmers never cost a remote round trip. Sensor and log sections degrade to
// empty on remote trouble, the profile itself is mandatory.
func (a *Aggregator) CompleteInfo(ctx context.Context, tenantNum, farmerID string) (*model.FarmInfo, error) {
	tenant, err := a.registry.Tenant(ctx, tenantNum)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantNum, bitable.ErrNotFound)
	}

	authorized, err := a.registry.IsAuthorized(ctx, tenantNum, farmerID)
	if err != nil {
		return nil, err
	}
	if !authorized {
		return nil, fmt.Errorf("farmer %s in tenant %s: %w", farmerID, tenantNum, bitable.ErrForbidden)
	}

	client, schema, err := a.registry.ClientFor(tenantNum)
	if err != nil {
		return nil, err
	}

	info := &model.FarmInfo{
		Sensor:          a.sensorSnapshot(ctx, client, schema),
		FeedingRecords:  []model.FeedingRecord{},
		BreedingProcess: []model.ProcessRecord{},
	}

	profile, linkName, err := a.farmerProfile(ctx, client, schema, tenantNum, farmerID)
	if err != nil {
		return nil, err
	}
	info.ProductInfo = profile

	if linkName != "" {
		filter := bitable.EqFilter(farmerMatchField, linkName)
		info.FeedingRecords = a.feedingLog(ctx, client, schema, filter)
		info.BreedingProcess = a.processLog(ctx, client, schema, filter)
	}
	info.Statistics = model.FarmStatistics{
		FeedingCount: len(info.FeedingRecords),
		ProcessCount: len(info.BreedingProcess),
	}
	return info, nil
}

// sensorSnapshot reads the current sensor table into a name to value map.
// Missing table or remote trouble yields an empty snapshot.
func (a *Aggregator) sensorSnapshot(ctx context.Context, client *bitable.Client, schema *bitable.Schema) map[string]string {
	snapshot := make(map[string]string)

	tableID, err := schema.Resolve(sensorTable)
	if err != nil {
		log.Debug().Err(err).Msg("Tenant has no sensor table")
		return snapshot
	}

	records, err := client.ListRecords(ctx, tableID)
	if err != nil {
		log.Warn().Err(err).Msg("Sensor listing failed, serving empty snapshot")
		return snapshot
	}

	for _, rec := range records {
		name := cellString(rec.Fields[sensorNameField])
		if name == "" {
			continue
		}
		value := cellString(rec.Fields[sensorDataField])
		if value == "" {
			value = cellString(rec.Fields[sensorValueField])
		}
		snapshot[name] = value
	}
	return snapshot
}

// farmerProfile fetches and formats the farmer's own record and extracts the
// display name used to link log rows back to the farmer.
func (a *Aggregator) farmerProfile(ctx context.Context, client *bitable.Client, schema *bitable.Schema, tenantNum, farmerID string) (map[string]any, string, error) {
	tableID, err := schema.Resolve(registry.DefaultFarmerTable)
	if err != nil {
		return nil, "", err
	}

	record, err := client.GetRecord(ctx, tableID, farmerID)
	if err != nil {
		return nil, "", err
	}

	linkName := cellString(record.Fields[farmerLinkField])

	fields := record.Fields
	if entry, err := schema.Entry(registry.DefaultFarmerTable); err == nil {
		fields = a.formatter.FormatRecord(fields, entry)
	}
	fields = a.registry.Handlers().Handle(registry.DefaultFarmerTable, fields)
	return fields, linkName, nil
}

func (a *Aggregator) feedingLog(ctx context.Context, client *bitable.Client, schema *bitable.Schema, filter string) []model.FeedingRecord {
	rows := a.filteredRows(ctx, client, schema, feedingTable, filter)
	out := make([]model.FeedingRecord, 0, len(rows))
	for _, fields := range rows {
		out = append(out, model.FeedingRecord{
			FoodName:      fields[foodField],
			Operator:      fields[operatorField],
			OperationTime: fields[opTimeField],
			Images:        fields[imagesField],
			CreatedTime:   fields[createdField],
			UpdatedTime:   fields[updatedField],
		})
	}
	return out
}

func (a *Aggregator) processLog(ctx context.Context, client *bitable.Client, schema *bitable.Schema, filter string) []model.ProcessRecord {
	rows := a.filteredRows(ctx, client, schema, processTable, filter)
	out := make([]model.ProcessRecord, 0, len(rows))
	for _, fields := range rows {
		out = append(out, model.ProcessRecord{
			ProcessName:   fields[processField],
			Operator:      fields[operatorField],
			OperationTime: fields[opTimeField],
			Images:        fields[imagesField],
			CreatedTime:   fields[createdField],
			UpdatedTime:   fields[updatedField],
		})
	}
	return out
}

// filteredRows lists a log table filtered to one farmer and formats each row.
// Any failure degrades to an empty section.
func (a *Aggregator) filteredRows(ctx context.Context, client *bitable.Client, schema *bitable.Schema, table, filter string) []map[string]any {
	tableID, err := schema.Resolve(table)
	if err != nil {
		log.Debug().Err(err).Str("table", table).Msg("Tenant has no such log table")
		return nil
	}

	records, err := client.FilterRecords(ctx, tableID, filter)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Log listing failed, serving empty section")
		return nil
	}

	entry, entryErr := schema.Entry(table)
	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		fields := rec.Fields
		if entryErr == nil {
			fields = a.formatter.FormatRecord(fields, entry)
		}
		fields = a.registry.Handlers().Handle(table, fields)
		rows = append(rows, fields)
	}
	return rows
}

// cellString flattens a remote cell into display text, the same shapes the
// registry sees in the system table.
func cellString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	case []any:
		out := ""
		for _, item := range v {
			if seg, ok := item.(map[string]any); ok {
				if text, ok := seg["text"].(string); ok {
					out += text
				}
			}
		}
		return out
	default:
		return ""
	}
}
