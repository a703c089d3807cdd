package bitable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/monitoring"
)

// FieldDescriptor is one column definition as returned by the remote field
// listing. Property carries the display format for date/time columns.
type FieldDescriptor struct {
	FieldName string `json:"field_name"`
	UIType    string `json:"ui_type"`
	Property  struct {
		DateFormatter string `json:"date_formatter"`
	} `json:"property"`
}

// Record is one row of a remote table, addressed by its remote-assigned id.
type Record struct {
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

// RecordUpdate addresses one record for a batch update.
type RecordUpdate struct {
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

// Client issues authenticated calls against the remote tabular service for
// one tenant's credential pair. A Client is immutable after construction and
// safe for concurrent use.
type Client struct {
	baseURL     string
	appToken    string
	accessToken string
	http        *retryablehttp.Client
}

// NewClient builds a tenant-scoped client. Both credentials are required;
// a missing one is a configuration fault, not a remote failure.
func NewClient(baseURL, appToken, accessToken string, timeout time.Duration) (*Client, error) {
	if appToken == "" || accessToken == "" {
		return nil, fmt.Errorf("%w: app_token=%t access_token=%t",
			ErrMisconfigured, appToken != "", accessToken != "")
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: timeout}
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		appToken:    appToken,
		accessToken: accessToken,
		http:        rc,
	}, nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body any) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		monitoring.RemoteRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrRemoteUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrRemoteUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: "malformed response body"}
	}
	if env.Code != 0 {
		return nil, &RemoteError{Code: env.Code, Message: env.Msg}
	}
	return env.Data, nil
}

// ListTables returns the tenant's table-name to table-id mapping. Failures
// are returned to the caller; schema building treats them as non-fatal.
func (c *Client) ListTables(ctx context.Context) (map[string]string, error) {
	data, err := c.do(ctx, "list_tables", http.MethodGet,
		"/open-apis/bitable/v1/apps/"+c.appToken+"/tables", nil, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []struct {
			Name    string `json:"name"`
			TableID string `json:"table_id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &RemoteError{Message: "malformed table listing"}
	}

	tables := make(map[string]string, len(out.Items))
	for _, t := range out.Items {
		if t.Name != "" && t.TableID != "" {
			tables[t.Name] = t.TableID
		}
	}
	return tables, nil
}

// ListFields returns the field descriptors of one table.
func (c *Client) ListFields(ctx context.Context, tableID string) ([]FieldDescriptor, error) {
	data, err := c.do(ctx, "list_fields", http.MethodGet,
		"/open-apis/bitable/v1/apps/"+c.appToken+"/tables/"+tableID+"/fields", nil, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []FieldDescriptor `json:"items"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &RemoteError{Message: "malformed field listing"}
	}
	return out.Items, nil
}

// ListRecords returns the first page of a table's records.
func (c *Client) ListRecords(ctx context.Context, tableID string) ([]Record, error) {
	return c.records(ctx, "list_records", tableID, nil)
}

// FilterRecords returns the first page of records matching the remote
// equality predicate built by EqFilter.
func (c *Client) FilterRecords(ctx context.Context, tableID, filter string) ([]Record, error) {
	params := url.Values{}
	params.Set("filter", filter)
	return c.records(ctx, "filter_records", tableID, params)
}

func (c *Client) records(ctx context.Context, op, tableID string, params url.Values) ([]Record, error) {
	data, err := c.do(ctx, op, http.MethodGet,
		"/open-apis/bitable/v1/apps/"+c.appToken+"/tables/"+tableID+"/records", params, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []Record `json:"items"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &RemoteError{Message: "malformed record listing"}
	}
	return out.Items, nil
}

// recordMissingCode is the remote's envelope code for a record id that does
// not exist in the table.
const recordMissingCode = 1254043

// GetRecord fetches one record by id. Only a record-missing rejection maps
// to ErrNotFound; other rejections (auth failures, upstream 5xx) keep their
// RemoteError so callers surface them as upstream trouble, not a miss.
func (c *Client) GetRecord(ctx context.Context, tableID, recordID string) (*Record, error) {
	data, err := c.do(ctx, "get_record", http.MethodGet,
		"/open-apis/bitable/v1/apps/"+c.appToken+"/tables/"+tableID+"/records/"+recordID, nil, nil)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && (re.Code == recordMissingCode || re.StatusCode == http.StatusNotFound) {
			log.Debug().Err(err).Str("record_id", recordID).Msg("Record not found on remote")
			return nil, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
		}
		return nil, err
	}

	var out struct {
		Record Record `json:"record"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &RemoteError{Message: "malformed record body"}
	}
	if out.Record.RecordID == "" && len(out.Record.Fields) == 0 {
		return nil, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	return &out.Record, nil
}

// BatchUpdate applies field updates to several records in one call.
func (c *Client) BatchUpdate(ctx context.Context, tableID string, updates []RecordUpdate) error {
	payload := map[string]any{"records": updates}
	_, err := c.do(ctx, "batch_update", http.MethodPost,
		"/open-apis/bitable/v1/apps/"+c.appToken+"/tables/"+tableID+"/records/batch_update", nil, payload)
	return err
}

// DownloadAttachment streams the binary content behind an attachment token.
// The caller owns the returned body.
func (c *Client) DownloadAttachment(ctx context.Context, fileToken string) (io.ReadCloser, string, int64, error) {
	u := c.baseURL + "/open-apis/drive/v1/medias/" + url.PathEscape(fileToken) + "/download"

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("%w: download %s: %v", ErrRemoteUnavailable, fileToken, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, "", 0, fmt.Errorf("attachment %s: %w", fileToken, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, "", 0, &RemoteError{StatusCode: resp.StatusCode, Message: "attachment download failed"}
	}
	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

// EqFilter builds the remote equality predicate over a display field, e.g.
// CurrentValue.[农户]="张三". Embedded quotes in the value are escaped.
func EqFilter(field, value string) string {
	value = strings.ReplaceAll(value, `"`, `\"`)
	return fmt.Sprintf(`CurrentValue.[%s]="%s"`, field, value)
}
