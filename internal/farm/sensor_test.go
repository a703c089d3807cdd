package farm

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agrilink-solutions/farm-trace-service/internal/model"
)

func dht11Payload(t *testing.T, decoded string) []byte {
	t.Helper()
	return []byte(`{"message":"` + base64.StdEncoding.EncodeToString([]byte(decoded)) + `"}`)
}

func TestDecodeDHT11(t *testing.T) {
	reading, err := DecodeDHT11(dht11Payload(t, "45 23.5"))
	assert.NoError(t, err)
	assert.Equal(t, model.SensorReading{Humidity: "45", Temperature: "23.5"}, reading)
}

func TestDecodeDHT11RejectsBadPayloads(t *testing.T) {
	_, err := DecodeDHT11([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeDHT11([]byte(`{"message":""}`))
	assert.Error(t, err)

	_, err = DecodeDHT11([]byte(`{"message":"%%%"}`))
	assert.Error(t, err)

	_, err = DecodeDHT11(dht11Payload(t, "45"))
	assert.Error(t, err)

	_, err = DecodeDHT11(dht11Payload(t, "45 23.5 99"))
	assert.Error(t, err)
}

func TestDecodePassthrough(t *testing.T) {
	reading, err := DecodePassthrough([]byte(`{"humidity":"45","temperature":"23.5"}`))
	assert.NoError(t, err)
	assert.Equal(t, "23.5", reading.Temperature)

	_, err = DecodePassthrough([]byte(`{}`))
	assert.Error(t, err)
}

func TestSensorWriterApplies(t *testing.T) {
	remote := newFarmRemote(t)
	reg := newTestRegistry(t, remote.srv.URL)
	ctx := context.Background()
	assert.NoError(t, reg.Reload(ctx))

	writer := NewSensorWriter(reg)
	applied, err := writer.Apply(ctx, "T001", model.SensorReading{Humidity: "45", Temperature: "23.5"})
	assert.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(1), remote.batchUpdates.Load())
}

func TestSensorWriterSkipsUnchangedReading(t *testing.T) {
	remote := newFarmRemote(t)
	reg := newTestRegistry(t, remote.srv.URL)
	ctx := context.Background()
	assert.NoError(t, reg.Reload(ctx))

	writer := NewSensorWriter(reg)
	reading := model.SensorReading{Humidity: "45", Temperature: "23.5"}

	applied, err := writer.Apply(ctx, "T001", reading)
	assert.NoError(t, err)
	assert.True(t, applied)

	applied, err = writer.Apply(ctx, "T001", reading)
	assert.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(1), remote.batchUpdates.Load())

	// A changed reading writes through again.
	applied, err = writer.Apply(ctx, "T001", model.SensorReading{Humidity: "46", Temperature: "23.5"})
	assert.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(2), remote.batchUpdates.Load())
}

func TestSensorWriterForget(t *testing.T) {
	remote := newFarmRemote(t)
	reg := newTestRegistry(t, remote.srv.URL)
	ctx := context.Background()
	assert.NoError(t, reg.Reload(ctx))

	writer := NewSensorWriter(reg)
	reading := model.SensorReading{Humidity: "45", Temperature: "23.5"}

	_, err := writer.Apply(ctx, "T001", reading)
	assert.NoError(t, err)

	writer.Forget("T001")

	applied, err := writer.Apply(ctx, "T001", reading)
	assert.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(2), remote.batchUpdates.Load())
}

func TestSensorWriterUnknownTenant(t *testing.T) {
	remote := newFarmRemote(t)
	reg := newTestRegistry(t, remote.srv.URL)
	ctx := context.Background()
	assert.NoError(t, reg.Reload(ctx))

	_, err := NewSensorWriter(reg).Apply(ctx, "T999", model.SensorReading{Humidity: "1", Temperature: "2"})
	assert.Error(t, err)
}
