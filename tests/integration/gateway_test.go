package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relaypoint/crm-gateway/internal/testutil"
	"github.com/relaypoint/crm-gateway/pkg/cache"
	"github.com/relaypoint/crm-gateway/pkg/client"
	"github.com/relaypoint/crm-gateway/pkg/crm"
	"github.com/relaypoint/crm-gateway/pkg/ratelimit"

	"github.com/rs/zerolog"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newGatewayClient(t *testing.T, baseURL string) *client.Client {
	t.Helper()

	limiter := ratelimit.New(ratelimit.DefaultMaxRequests, ratelimit.DefaultWindow, zerolog.Nop())
	cfg := client.DefaultConfig(baseURL, "integration-token")
	cfg.RequestTimeout = 5 * time.Second
	cfg.MaxRetries = 1

	c, err := client.New(cfg, limiter)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

const contactPage = `[
	{"id": "1", "properties": {"firstname": "Ada", "lastname": "Lovelace", "email": "ada@example.com"}},
	{"id": "2", "properties": {"firstname": "Alan", "lastname": "Turing", "email": "alan@example.com"}}
]`

// pagedContactsHandler serves a two-page collection joined by a cursor.
func pagedContactsHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("after") == "p2" {
			fmt.Fprint(w, `{"results": [{"id": "3", "properties": {"firstname": "Grace"}}]}`)
			return
		}
		fmt.Fprint(w, `{"results": [`+
			`{"id": "1", "properties": {"firstname": "Ada"}},`+
			`{"id": "2", "properties": {"firstname": "Alan"}}`+
			`], "paging": {"next": {"after": "p2"}}}`)
	}
}

// TestReadThroughFlow exercises the full read path: cache miss, remote
// fetch through the rate limiter, snapshot store, then a cached read
// that never touches the upstream.
func TestReadThroughFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mockCRM := testutil.NewMockCRM()
	defer mockCRM.Close()
	mockCRM.SetResponse("/objects/contacts", testutil.NewListResponse(contactPage, ""))

	c := newGatewayClient(t, mockCRM.URL())
	contacts := crm.NewObjects(c).Collection(crm.KindContacts)
	store := cache.NewRedisStore(redisClient, crm.KindContacts)
	contactCache := cache.New(store, contacts, cache.Config{TTL: 300 * time.Second})

	ctx := context.Background()

	records, servedStale, err := contactCache.ListAll(ctx, "owner-1")
	if err != nil {
		t.Fatalf("First read failed: %v", err)
	}
	if servedStale {
		t.Error("First read should not be stale")
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if mockCRM.GetRequestCount() != 1 {
		t.Errorf("Expected 1 upstream request, got %d", mockCRM.GetRequestCount())
	}

	records, servedStale, err = contactCache.ListAll(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Cached read failed: %v", err)
	}
	if servedStale {
		t.Error("Cached read should not be stale")
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 cached records, got %d", len(records))
	}
	if mockCRM.GetRequestCount() != 1 {
		t.Errorf("Cached read should skip upstream, got %d requests", mockCRM.GetRequestCount())
	}
}

// TestStaleOnErrorFlow verifies that an expired snapshot is still served
// when the refresh fails with an upstream error.
func TestStaleOnErrorFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mockCRM := testutil.NewMockCRM()
	defer mockCRM.Close()
	mockCRM.SetResponse("/objects/contacts", testutil.NewListResponse(contactPage, ""))

	c := newGatewayClient(t, mockCRM.URL())
	contacts := crm.NewObjects(c).Collection(crm.KindContacts)
	store := cache.NewRedisStore(redisClient, crm.KindContacts)
	contactCache := cache.New(store, contacts, cache.Config{TTL: 100 * time.Millisecond})

	ctx := context.Background()

	if _, _, err := contactCache.ListAll(ctx, "owner-1"); err != nil {
		t.Fatalf("Seed read failed: %v", err)
	}

	// Let the snapshot expire, then break the upstream.
	time.Sleep(200 * time.Millisecond)
	mockCRM.SetResponse("/objects/contacts", testutil.NewServerErrorResponse())

	records, servedStale, err := contactCache.ListAll(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Expected stale serve, got error: %v", err)
	}
	if !servedStale {
		t.Error("Expected the read to be marked stale")
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 stale records, got %d", len(records))
	}
}

// TestRetryFlow verifies that a rate-limited upstream response is
// retried and eventually succeeds.
func TestRetryFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mockCRM := testutil.NewMockCRM()
	defer mockCRM.Close()
	mockCRM.SetResponseSequence("/objects/contacts",
		testutil.NewRateLimitResponse(1),
		testutil.NewListResponse(contactPage, ""),
	)

	c := newGatewayClient(t, mockCRM.URL())
	contacts := crm.NewObjects(c).Collection(crm.KindContacts)
	store := cache.NewRedisStore(redisClient, crm.KindContacts)
	contactCache := cache.New(store, contacts, cache.Config{TTL: 300 * time.Second})

	ctx := context.Background()

	records, _, err := contactCache.ListAll(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Expected retry to recover, got: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 records after retry, got %d", len(records))
	}
	if mockCRM.GetRequestCount() != 2 {
		t.Errorf("Expected 2 upstream requests (429 then 200), got %d", mockCRM.GetRequestCount())
	}
}

// TestPaginatedRefresh verifies that a multi-page collection is walked
// completely before the snapshot is stored.
func TestPaginatedRefresh(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mockCRM := testutil.NewMockCRM()
	defer mockCRM.Close()
	mockCRM.SetHandler("/objects/contacts", pagedContactsHandler())

	c := newGatewayClient(t, mockCRM.URL())
	contacts := crm.NewObjects(c).Collection(crm.KindContacts)
	store := cache.NewRedisStore(redisClient, crm.KindContacts)
	contactCache := cache.New(store, contacts, cache.Config{TTL: 300 * time.Second})

	records, _, err := contactCache.ListAll(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Paginated read failed: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("Expected 3 records across pages, got %d", len(records))
	}
	if mockCRM.GetRequestCount() != 2 {
		t.Errorf("Expected 2 page requests, got %d", mockCRM.GetRequestCount())
	}
}
