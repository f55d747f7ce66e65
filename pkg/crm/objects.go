package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/crm-gateway/pkg/client"
	"github.com/relaypoint/crm-gateway/pkg/pagination"
)

// PageLimit is the server-capped page size for list calls.
const PageLimit = 100

// Objects exposes the platform's object operations across entity kinds.
type Objects struct {
	client *client.Client
	logger zerolog.Logger
}

// NewObjects creates the object operations service on top of a gateway.
func NewObjects(c *client.Client) *Objects {
	return &Objects{
		client: c,
		logger: log.With().Str("component", "crm-objects").Logger(),
	}
}

// listResponse is the wire shape of a list or search call.
type listResponse struct {
	Results []Record `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (r *listResponse) nextAfter() string {
	if r.Paging != nil && r.Paging.Next != nil {
		return r.Paging.Next.After
	}
	return ""
}

// List fetches one page of a collection. An empty after requests the
// first page; the returned cursor is empty on the last page.
func (o *Objects) List(ctx context.Context, kind, after string) ([]Record, string, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(PageLimit))
	if after != "" {
		query.Set("after", after)
	}

	raw, err := o.client.Get(ctx, "/objects/"+kind, query)
	if err != nil {
		return nil, "", err
	}

	var page listResponse
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, "", fmt.Errorf("decode %s page: %w", kind, err)
	}
	return page.Results, page.nextAfter(), nil
}

// ListAll walks every page of a collection.
func (o *Objects) ListAll(ctx context.Context, kind string) ([]Record, error) {
	records, err := pagination.FetchAll(ctx, func(ctx context.Context, after string) ([]Record, string, error) {
		return o.List(ctx, kind, after)
	}, pagination.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("list all %s: %w", kind, err)
	}
	return records, nil
}

// Get fetches a single record by id.
func (o *Objects) Get(ctx context.Context, kind, id string) (Record, error) {
	raw, err := o.client.Get(ctx, "/objects/"+kind+"/"+id, nil)
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(raw, kind)
}

// Create creates a record with the given properties.
func (o *Objects) Create(ctx context.Context, kind string, props Properties) (Record, error) {
	raw, err := o.client.Post(ctx, "/objects/"+kind, map[string]any{"properties": props})
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(raw, kind)
}

// Update patches the provided properties of a record; properties not set
// in props keep their remote values.
func (o *Objects) Update(ctx context.Context, kind, id string, props Properties) (Record, error) {
	raw, err := o.client.Patch(ctx, "/objects/"+kind+"/"+id, map[string]any{"properties": props})
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(raw, kind)
}

// Delete removes a record from the platform.
func (o *Objects) Delete(ctx context.Context, kind, id string) error {
	return o.client.Delete(ctx, "/objects/"+kind+"/"+id)
}

// Search runs the platform's full-text search over a kind.
func (o *Objects) Search(ctx context.Context, kind, query string, limit int) ([]Record, error) {
	if limit <= 0 || limit > PageLimit {
		limit = PageLimit
	}

	raw, err := o.client.Post(ctx, "/objects/"+kind+"/search", map[string]any{
		"query": query,
		"limit": limit,
	})
	if err != nil {
		return nil, err
	}

	var page listResponse
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode %s search: %w", kind, err)
	}
	return page.Results, nil
}

// BatchRead fetches multiple records by id in a single call.
func (o *Objects) BatchRead(ctx context.Context, kind string, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	inputs := make([]map[string]string, len(ids))
	for i, id := range ids {
		inputs[i] = map[string]string{"id": id}
	}

	raw, err := o.client.Post(ctx, "/objects/"+kind+"/batch/read", map[string]any{"inputs": inputs})
	if err != nil {
		return nil, err
	}

	var page listResponse
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode %s batch read: %w", kind, err)
	}
	return page.Results, nil
}

func decodeRecord(raw json.RawMessage, kind string) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode %s record: %w", kind, err)
	}
	return rec, nil
}

// Collection binds Objects to one kind, giving consumers that only care
// about a single collection a narrow surface.
type Collection struct {
	objects *Objects
	kind    string
}

// Collection returns a kind-bound view of the object operations.
func (o *Objects) Collection(kind string) *Collection {
	return &Collection{objects: o, kind: kind}
}

// Kind returns the bound entity kind.
func (c *Collection) Kind() string { return c.kind }

// ListAll walks every page of the bound collection.
func (c *Collection) ListAll(ctx context.Context) ([]Record, error) {
	return c.objects.ListAll(ctx, c.kind)
}

// Get fetches a single record by id.
func (c *Collection) Get(ctx context.Context, id string) (Record, error) {
	return c.objects.Get(ctx, c.kind, id)
}

// Create creates a record in the bound collection.
func (c *Collection) Create(ctx context.Context, props Properties) (Record, error) {
	return c.objects.Create(ctx, c.kind, props)
}

// Update patches a record in the bound collection.
func (c *Collection) Update(ctx context.Context, id string, props Properties) (Record, error) {
	return c.objects.Update(ctx, c.kind, id, props)
}

// Delete removes a record from the bound collection.
func (c *Collection) Delete(ctx context.Context, id string) error {
	return c.objects.Delete(ctx, c.kind, id)
}

// Search runs full-text search over the bound collection.
func (c *Collection) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	return c.objects.Search(ctx, c.kind, query, limit)
}

// BatchRead fetches multiple records by id from the bound collection.
func (c *Collection) BatchRead(ctx context.Context, ids []string) ([]Record, error) {
	return c.objects.BatchRead(ctx, c.kind, ids)
}
