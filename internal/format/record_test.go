package format

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agrilink-solutions/farm-trace-service/internal/model"
)

func TestFormatRecordNoFormattingReturnsSameMap(t *testing.T) {
	f := NewFormatter()
	fields := map[string]any{"名称": "temperature", "数据": "23.5"}

	out := f.FormatRecord(fields, model.TableSchema{TableName: "传感器"})

	assert.Equal(t, fields, out)
	// Identity, not a copy: tables without hints skip the rewrite entirely.
	out["数据"] = "24.0"
	assert.Equal(t, "24.0", fields["数据"])
}

func TestFormatRecordDoesNotMutateInput(t *testing.T) {
	f := NewFormatter()
	schema := model.TableSchema{
		TableName:  "饲喂记录",
		TimeFields: map[string]string{"操作时间": "yyyy-MM-dd"},
	}
	fields := map[string]any{"操作时间": float64(1640995200000)}

	out := f.FormatRecord(fields, schema)

	assert.Equal(t, "2022-01-01", out["操作时间"])
	assert.Equal(t, float64(1640995200000), fields["操作时间"])
}

func TestFormatRecordKeepsRawOnBadTimestamp(t *testing.T) {
	f := NewFormatter()
	schema := model.TableSchema{
		TableName:  "饲喂记录",
		TimeFields: map[string]string{"操作时间": "yyyy-MM-dd"},
	}
	fields := map[string]any{"操作时间": "not a number"}

	out := f.FormatRecord(fields, schema)

	assert.Equal(t, "not a number", out["操作时间"])
}

func TestFormatRecordRewritesAttachments(t *testing.T) {
	f := NewFormatter()
	schema := model.TableSchema{
		TableName:        "饲喂记录",
		AttachmentFields: []string{"图片"},
	}
	fields := map[string]any{
		"图片": []any{
			map[string]any{"file_token": "tok123", "name": "a.jpg"},
			map[string]any{"file_token": "tok456", "name": "b.jpg"},
		},
	}

	out := f.FormatRecord(fields, schema)

	assert.Equal(t, []string{"/api/v1/img/tok123", "/api/v1/img/tok456"}, out["图片"])
}

func TestFormatRecordAttachmentGarbageCollapsesToEmpty(t *testing.T) {
	f := NewFormatter()
	schema := model.TableSchema{
		TableName:        "饲喂记录",
		AttachmentFields: []string{"图片"},
	}

	out := f.FormatRecord(map[string]any{"图片": "not a list"}, schema)
	assert.Equal(t, []string{}, out["图片"])

	out = f.FormatRecord(map[string]any{"图片": []any{map[string]any{"name": "x"}}}, schema)
	assert.Equal(t, []string{}, out["图片"])
}

func TestFormatRecordSkipsAbsentFields(t *testing.T) {
	f := NewFormatter()
	schema := model.TableSchema{
		TableName:        "饲喂记录",
		TimeFields:       map[string]string{"操作时间": "yyyy-MM-dd"},
		AttachmentFields: []string{"图片"},
	}
	fields := map[string]any{"食物": "玉米"}

	out := f.FormatRecord(fields, schema)

	assert.Equal(t, "玉米", out["食物"])
	assert.NotContains(t, out, "操作时间")
	assert.NotContains(t, out, "图片")
}
