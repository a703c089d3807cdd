package farm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/bitable"
	"github.com/agrilink-solutions/farm-trace-service/internal/model"
	"github.com/agrilink-solutions/farm-trace-service/internal/registry"
)

// Sensor row display names the gateway payloads map onto.
const (
	temperatureRow = "temperature"
	humidityRow    = "humidity"
)

// DecodeDHT11 unpacks a DHT11 gateway callback. The gateway wraps a base64
// blob in a JSON envelope; the blob decodes to "humidity temperature" as two
// space-separated decimal strings.
func DecodeDHT11(payload []byte) (model.SensorReading, error) {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return model.SensorReading{}, fmt.Errorf("decoding gateway envelope: %w", err)
	}
	if envelope.Message == "" {
		return model.SensorReading{}, fmt.Errorf("gateway envelope has no message")
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Message)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("decoding gateway message: %w", err)
	}

	parts := strings.Fields(string(decoded))
	if len(parts) != 2 {
		return model.SensorReading{}, fmt.Errorf("gateway message %q is not a humidity/temperature pair", string(decoded))
	}
	return model.SensorReading{Humidity: parts[0], Temperature: parts[1]}, nil
}

// DecodePassthrough accepts an already-decoded reading, used by gateways
// that post plain JSON.
func DecodePassthrough(payload []byte) (model.SensorReading, error) {
	var reading model.SensorReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return model.SensorReading{}, fmt.Errorf("decoding sensor reading: %w", err)
	}
	if reading.Humidity == "" && reading.Temperature == "" {
		return model.SensorReading{}, fmt.Errorf("sensor reading carries no values")
	}
	return reading, nil
}

// SensorWriter pushes decoded readings into each tenant's sensor table.
// The last written reading is memoized per tenant so unchanged values never
// cost a remote write.
type SensorWriter struct {
	registry *registry.Registry
	memo     *gocache.Cache
}

// NewSensorWriter wires a SensorWriter over the tenant registry.
func NewSensorWriter(reg *registry.Registry) *SensorWriter {
	return &SensorWriter{
		registry: reg,
		memo:     gocache.New(gocache.NoExpiration, 0),
	}
}

// Apply writes the reading into the tenant's sensor table. Returns false
// when the reading equals the last applied one and no remote write happened.
// The memo is only advanced after the remote write succeeds, so a failed
// write is retried on the next callback.
func (w *SensorWriter) Apply(ctx context.Context, tenantNum string, reading model.SensorReading) (bool, error) {
	if cached, ok := w.memo.Get(tenantNum); ok {
		if last, ok := cached.(model.SensorReading); ok && last == reading {
			log.Debug().Str("tenant", tenantNum).Msg("Sensor reading unchanged, skipping write")
			return false, nil
		}
	}

	client, schema, err := w.registry.ClientFor(tenantNum)
	if err != nil {
		return false, err
	}

	tableID, err := schema.Resolve(sensorTable)
	if err != nil {
		return false, err
	}

	records, err := client.ListRecords(ctx, tableID)
	if err != nil {
		return false, err
	}

	updates := make([]bitable.RecordUpdate, 0, 2)
	for _, rec := range records {
		var value string
		switch cellString(rec.Fields[sensorNameField]) {
		case temperatureRow:
			value = reading.Temperature
		case humidityRow:
			value = reading.Humidity
		default:
			continue
		}
		updates = append(updates, bitable.RecordUpdate{
			RecordID: rec.RecordID,
			Fields:   map[string]any{sensorDataField: value},
		})
	}
	if len(updates) == 0 {
		return false, fmt.Errorf("sensor table has no temperature/humidity rows: %w", bitable.ErrMisconfigured)
	}

	if err := client.BatchUpdate(ctx, tableID, updates); err != nil {
		return false, err
	}

	w.memo.Set(tenantNum, reading, gocache.NoExpiration)
	log.Info().
		Str("tenant", tenantNum).
		Str("temperature", reading.Temperature).
		Str("humidity", reading.Humidity).
		Msg("Sensor reading applied")
	return true, nil
}

// Forget drops the memoized reading for a tenant, forcing the next callback
// to write through.
func (w *SensorWriter) Forget(tenantNum string) {
	w.memo.Delete(tenantNum)
}
