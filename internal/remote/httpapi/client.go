package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aemtliapp/aemtli-sync/internal/remote"
)

// Client talks to a record-store server and implements remote.Container.
type Client struct {
	baseURL  string
	identity string
	http     *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client. The default has no
// overall timeout because the change feed long-polls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client for the record store at baseURL, acting as the
// given account identity.
func NewClient(baseURL, identity string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: identity,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ remote.Container = (*Client)(nil)

// AccountIdentity resolves the signed-in account identity.
func (c *Client) AccountIdentity(ctx context.Context) (string, error) {
	var out struct {
		Identity string `json:"identity"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/identity", nil, &out); err != nil {
		return "", err
	}
	return out.Identity, nil
}

// Database returns the record access layer for one scope.
func (c *Client) Database(scope remote.Scope) remote.Database {
	return &clientDatabase{client: c, scope: scope}
}

// FetchShareMetadata resolves a share URL.
func (c *Client) FetchShareMetadata(ctx context.Context, shareURL string) (*remote.ShareMetadata, error) {
	var md remote.ShareMetadata
	path := "/v1/share-metadata?url=" + url.QueryEscape(shareURL)
	if err := c.do(ctx, http.MethodGet, path, nil, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// AcceptShare joins the share described by metadata.
func (c *Client) AcceptShare(ctx context.Context, metadata *remote.ShareMetadata) (*remote.Share, error) {
	var sh remote.Share
	if err := c.do(ctx, http.MethodPost, "/v1/shares/accept", metadata, &sh); err != nil {
		return nil, err
	}
	return &sh, nil
}

// WaitChanges long-polls the change feed until the store's revision exceeds
// since, returning the new revision.
func (c *Client) WaitChanges(ctx context.Context, since int64) (int64, error) {
	for {
		var out struct {
			Revision int64 `json:"revision"`
		}
		path := "/v1/changes?since=" + strconv.FormatInt(since, 10)
		if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return since, err
		}
		if out.Revision > since {
			return out.Revision, nil
		}
		if err := ctx.Err(); err != nil {
			return since, err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set(identityHeader, c.identity)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return remote.WrapError(remote.CodeNetworkUnavailable, err, "record store unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Code != "" {
		return remote.NewError(body.Code, "%s", body.Message)
	}

	// No classified body, fall back to the status code.
	switch resp.StatusCode {
	case http.StatusServiceUnavailable:
		return remote.NewError(remote.CodeServiceUnavailable, "status %d", resp.StatusCode)
	case http.StatusTooManyRequests:
		return remote.NewError(remote.CodeRateLimited, "status %d", resp.StatusCode)
	case http.StatusNotFound:
		return remote.NewError(remote.CodeUnknownItem, "status %d", resp.StatusCode)
	case http.StatusConflict:
		return remote.NewError(remote.CodeConflict, "status %d", resp.StatusCode)
	case http.StatusForbidden:
		return remote.NewError(remote.CodePermissionDenied, "status %d", resp.StatusCode)
	default:
		return remote.NewError(remote.CodeInvalidRequest, "status %d", resp.StatusCode)
	}
}

// clientDatabase implements remote.Database over HTTP for one scope.
type clientDatabase struct {
	client *Client
	scope  remote.Scope
}

var _ remote.Database = (*clientDatabase)(nil)

func (d *clientDatabase) path(suffix string) string {
	return "/v1/" + string(d.scope) + suffix
}

func recordPath(id remote.RecordID) string {
	return fmt.Sprintf("/%s/%s/%s",
		url.PathEscape(id.Zone.Owner), url.PathEscape(id.Zone.Name), url.PathEscape(id.Name))
}

func (d *clientDatabase) EnsureZone(ctx context.Context, zoneID remote.ZoneID) error {
	return d.client.do(ctx, http.MethodPost, d.path("/zones"), zoneID, nil)
}

func (d *clientDatabase) SaveRecord(ctx context.Context, rec *remote.Record, policy remote.SavePolicy) (*remote.Record, error) {
	wire, err := encodeRecord(rec)
	if err != nil {
		return nil, remote.WrapError(remote.CodeInvalidRequest, err, "unencodable record")
	}

	var saved WireRecord
	path := d.path("/records?policy=" + url.QueryEscape(string(policy)))
	if err := d.client.do(ctx, http.MethodPost, path, wire, &saved); err != nil {
		return nil, err
	}
	return decodeRecord(&saved)
}

func (d *clientDatabase) SaveShare(ctx context.Context, anchor *remote.Record, share *remote.Share) (*remote.Share, error) {
	wireAnchor, err := encodeRecord(anchor)
	if err != nil {
		return nil, remote.WrapError(remote.CodeInvalidRequest, err, "unencodable anchor")
	}

	var sh remote.Share
	req := SaveShareRequest{Anchor: *wireAnchor, Share: *share}
	if err := d.client.do(ctx, http.MethodPost, d.path("/shares"), req, &sh); err != nil {
		return nil, err
	}
	return &sh, nil
}

func (d *clientDatabase) Query(ctx context.Context, recordType remote.RecordType, opts remote.QueryOptions) ([]*remote.Record, error) {
	req := QueryRequest{
		RecordType: recordType,
		Zone:       opts.Zone,
		SortBy:     opts.SortBy,
		Descending: opts.Descending,
	}

	var out struct {
		Records []*WireRecord `json:"records"`
	}
	if err := d.client.do(ctx, http.MethodPost, d.path("/records/query"), req, &out); err != nil {
		return nil, err
	}

	recs := make([]*remote.Record, 0, len(out.Records))
	for _, wire := range out.Records {
		rec, err := decodeRecord(wire)
		if err != nil {
			return nil, fmt.Errorf("decoding record %s: %w", wire.ID.Name, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (d *clientDatabase) FetchRecord(ctx context.Context, id remote.RecordID) (*remote.Record, error) {
	var wire WireRecord
	if err := d.client.do(ctx, http.MethodGet, d.path("/records"+recordPath(id)), nil, &wire); err != nil {
		return nil, err
	}
	return decodeRecord(&wire)
}

func (d *clientDatabase) FetchShare(ctx context.Context, id remote.RecordID) (*remote.Share, error) {
	var sh remote.Share
	if err := d.client.do(ctx, http.MethodGet, d.path("/shares"+recordPath(id)), nil, &sh); err != nil {
		return nil, err
	}
	return &sh, nil
}

func (d *clientDatabase) DeleteRecord(ctx context.Context, id remote.RecordID) error {
	return d.client.do(ctx, http.MethodDelete, d.path("/records"+recordPath(id)), nil, nil)
}
