package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// ListParams are the common list query parameters
type ListParams struct {
	Page      int
	PageSize  int
	Keyword   string
	SortBy    string
	SortOrder string
	Filters   map[string]string
}

// Values encodes the parameters as a query string
func (p ListParams) Values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(p.PageSize))
	}
	if p.Keyword != "" {
		v.Set("keyword", p.Keyword)
	}
	if p.SortBy != "" {
		v.Set("sortBy", p.SortBy)
	}
	if p.SortOrder != "" {
		v.Set("sortOrder", p.SortOrder)
	}
	for k, val := range p.Filters {
		if val != "" {
			v.Set(k, val)
		}
	}
	return v
}

// Page is one page of a list response
type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

// UnmarshalJSON accepts items under "items", "list" or "records", or a bare array
func (p *Page[T]) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var items []T
		if err := sonic.Unmarshal(data, &items); err != nil {
			return err
		}
		*p = Page[T]{Items: items, Total: int64(len(items))}
		return nil
	}

	var raw struct {
		Items    json.RawMessage `json:"items"`
		List     json.RawMessage `json:"list"`
		Records  json.RawMessage `json:"records"`
		Total    int64           `json:"total"`
		Page     int             `json:"page"`
		PageSize int             `json:"pageSize"`
		Size     int             `json:"size"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}

	itemsRaw := raw.Items
	if len(itemsRaw) == 0 {
		itemsRaw = raw.List
	}
	if len(itemsRaw) == 0 {
		itemsRaw = raw.Records
	}

	var items []T
	if len(itemsRaw) > 0 && string(itemsRaw) != "null" {
		if err := sonic.Unmarshal(itemsRaw, &items); err != nil {
			return err
		}
	}

	p.Items = items
	p.Total = raw.Total
	p.Page = raw.Page
	p.PageSize = raw.PageSize
	if p.PageSize == 0 {
		p.PageSize = raw.Size
	}
	return nil
}

// ReadResource is a read-only collection endpoint
type ReadResource[T any] struct {
	client *Client
	path   string
}

// NewReadResource binds a read-only collection at path
func NewReadResource[T any](c *Client, path string) *ReadResource[T] {
	return &ReadResource[T]{client: c, path: "/" + strings.Trim(path, "/")}
}

// Path returns the collection path
func (r *ReadResource[T]) Path() string {
	return r.path
}

func (r *ReadResource[T]) itemPath(id string) string {
	return r.path + "/" + url.PathEscape(id)
}

func (r *ReadResource[T]) itemRoute() string {
	return r.path + "/:id"
}

// List returns one page of the collection
func (r *ReadResource[T]) List(ctx context.Context, params ListParams) (*Page[T], error) {
	var page Page[T]
	err := r.client.do(ctx, request{
		method: http.MethodGet,
		path:   r.path,
		query:  params.Values(),
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// Get returns one item
func (r *ReadResource[T]) Get(ctx context.Context, id string) (*T, error) {
	var item T
	err := r.client.do(ctx, request{
		method: http.MethodGet,
		path:   r.itemPath(id),
		route:  r.itemRoute(),
	}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Resource is a full CRUD collection endpoint
type Resource[T any] struct {
	*ReadResource[T]
}

// NewResource binds a CRUD collection at path
func NewResource[T any](c *Client, path string) *Resource[T] {
	return &Resource[T]{ReadResource: NewReadResource[T](c, path)}
}

// Create posts a new item
func (r *Resource[T]) Create(ctx context.Context, body any) (*T, error) {
	var item T
	err := r.client.do(ctx, request{
		method: http.MethodPost,
		path:   r.path,
		body:   body,
	}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Update replaces fields of one item
func (r *Resource[T]) Update(ctx context.Context, id string, body any) (*T, error) {
	var item T
	err := r.client.do(ctx, request{
		method: http.MethodPut,
		path:   r.itemPath(id),
		route:  r.itemRoute(),
		body:   body,
	}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Delete removes one item
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	return r.client.do(ctx, request{
		method: http.MethodDelete,
		path:   r.itemPath(id),
		route:  r.itemRoute(),
	}, nil)
}

// BatchResult reports a batch operation
type BatchResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failedIds,omitempty"`
}

// BatchDelete removes several items in one call
func (r *Resource[T]) BatchDelete(ctx context.Context, ids []string) (*BatchResult, error) {
	var res BatchResult
	err := r.client.do(ctx, request{
		method: http.MethodPost,
		path:   r.path + "/batch-delete",
		body:   map[string]any{"ids": ids},
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// BatchUpdate applies the same changes to several items
func (r *Resource[T]) BatchUpdate(ctx context.Context, ids []string, changes any) (*BatchResult, error) {
	var res BatchResult
	err := r.client.do(ctx, request{
		method: http.MethodPut,
		path:   r.path + "/batch",
		body:   map[string]any{"ids": ids, "data": changes},
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
