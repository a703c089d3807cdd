package bitable

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agrilink-solutions/farm-trace-service/internal/model"
)

func schemaTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, "app123", "token456", 5*time.Second)
	assert.NoError(t, err)
	client.http.RetryMax = 0
	return client
}

func TestBuildSchemaClassifiesFields(t *testing.T) {
	client := schemaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open-apis/bitable/v1/apps/app123/tables":
			io.WriteString(w, `{"code":0,"msg":"success","data":{"items":[
				{"name":"饲喂记录","table_id":"tblF"}]}}`)
		case "/open-apis/bitable/v1/apps/app123/tables/tblF/fields":
			io.WriteString(w, `{"code":0,"msg":"success","data":{"items":[
				{"field_name":"食物","ui_type":"Text"},
				{"field_name":"操作时间","ui_type":"DateTime","property":{"date_formatter":"yyyy-MM-dd HH:mm"}},
				{"field_name":"创建","ui_type":"CreatedTime","property":{}},
				{"field_name":"更新","ui_type":"ModifiedTime","property":{"date_formatter":"yyyy/MM/dd"}},
				{"field_name":"图片","ui_type":"Attachment"}]}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	schema := BuildSchema(context.Background(), client)
	assert.Equal(t, 1, schema.Len())

	entry, err := schema.Entry("饲喂记录")
	assert.NoError(t, err)
	assert.Equal(t, "tblF", entry.TableID)
	assert.Equal(t, map[string]string{
		"操作时间": "yyyy-MM-dd HH:mm",
		"创建":   defaultDatePattern,
		"更新":   "yyyy/MM/dd",
	}, entry.TimeFields)
	assert.Equal(t, []string{"图片"}, entry.AttachmentFields)
	assert.True(t, entry.HasFormatting())
}

func TestBuildSchemaDegradesToEmptyOnListFailure(t *testing.T) {
	client := schemaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	schema := BuildSchema(context.Background(), client)
	assert.Equal(t, 0, schema.Len())

	_, err := schema.Resolve("农户管理")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestBuildSchemaKeepsTableWhenFieldsFail(t *testing.T) {
	client := schemaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/open-apis/bitable/v1/apps/app123/tables" {
			io.WriteString(w, `{"code":0,"msg":"success","data":{"items":[
				{"name":"传感器","table_id":"tblS"}]}}`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})

	schema := BuildSchema(context.Background(), client)

	id, err := schema.Resolve("传感器")
	assert.NoError(t, err)
	assert.Equal(t, "tblS", id)

	entry, err := schema.Entry("传感器")
	assert.NoError(t, err)
	assert.False(t, entry.HasFormatting())
}

func TestNewSchemaRestoresFromCache(t *testing.T) {
	schema := NewSchema(map[string]model.TableSchema{
		"农户管理": {TableName: "农户管理", TableID: "tblA"},
	})

	id, err := schema.Resolve("农户管理")
	assert.NoError(t, err)
	assert.Equal(t, "tblA", id)

	empty := NewSchema(nil)
	assert.Equal(t, 0, empty.Len())
}
