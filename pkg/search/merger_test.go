package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/relaypoint/crm-gateway/pkg/crm"
)

type fakeCollection struct {
	kind        string
	searchHits  []crm.Record
	searchErr   error
	records     map[string]crm.Record
	batchErr    error
	searchCalls int
	batchCalls  int
}

func (f *fakeCollection) Kind() string { return f.kind }

func (f *fakeCollection) Search(_ context.Context, _ string, _ int) ([]crm.Record, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchHits, nil
}

func (f *fakeCollection) BatchRead(_ context.Context, ids []string) ([]crm.Record, error) {
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	var out []crm.Record
	for _, id := range ids {
		if record, found := f.records[id]; found {
			out = append(out, record)
		}
	}
	return out, nil
}

type fakeResolver struct {
	// edges is keyed by fromKind, then by id.
	edges map[string]map[string][]string
	err   error
	calls int
}

func (f *fakeResolver) ResolveBatch(_ context.Context, fromKind, _ string, fromIDs []string) (map[string][]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	resolved := make(map[string][]string, len(fromIDs))
	for _, id := range fromIDs {
		resolved[id] = f.edges[fromKind][id]
	}
	return resolved, nil
}

type fakeRecorder struct {
	upserted []crm.Record
	err      error
	calls    int
}

func (f *fakeRecorder) UpsertBulk(_ context.Context, _ string, records []crm.Record) error {
	f.calls++
	f.upserted = append(f.upserted, records...)
	return f.err
}

func contact(id, first, last string) crm.Record {
	return crm.Record{ID: id, Properties: crm.Properties{FirstName: first, LastName: last}}
}

func company(id, name string) crm.Record {
	return crm.Record{ID: id, Properties: crm.Properties{Name: name}}
}

func TestSearch_MergesBothBranches(t *testing.T) {
	contacts := &fakeCollection{
		kind:       crm.KindContacts,
		searchHits: []crm.Record{contact("1", "Ada", "Lovelace"), contact("2", "Alan", "Turing")},
		records: map[string]crm.Record{
			"1": contact("1", "Ada", "Lovelace"),
			"3": contact("3", "Grace", "Hopper"),
		},
	}
	companies := &fakeCollection{
		kind:       crm.KindCompanies,
		searchHits: []crm.Record{company("A", "Acme")},
		records:    map[string]crm.Record{"A": company("A", "Acme")},
	}
	resolver := &fakeResolver{edges: map[string]map[string][]string{
		crm.KindContacts:  {"1": {"A"}},
		crm.KindCompanies: {"A": {"1", "3"}},
	}}

	merger := NewMerger(contacts, companies, resolver, nil)
	results, err := merger.Search(context.Background(), "owner-1", "a")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("Expected 3 merged results, got %d", len(results))
	}

	// Direct hits come first in arrival order, derived-only hits after.
	wantIDs := []string{"1", "2", "3"}
	for i, want := range wantIDs {
		if results[i].Record.ID != want {
			t.Errorf("Result %d: expected id %s, got %s", i, want, results[i].Record.ID)
		}
	}
	if results[0].Source != SourceDirect || results[1].Source != SourceDirect {
		t.Error("Expected direct hits to be marked as direct")
	}
	if results[2].Source != SourceDerived {
		t.Errorf("Expected result 3 to be derived, got %s", results[2].Source)
	}

	if got := results[0].Enrichment[EnrichmentCompanyName]; got != "Acme" {
		t.Errorf("Expected contact 1 enriched with Acme, got %q", got)
	}
	if results[1].Enrichment != nil {
		t.Errorf("Expected contact 2 without enrichment, got %v", results[1].Enrichment)
	}
	if got := results[2].Enrichment[EnrichmentCompanyName]; got != "Acme" {
		t.Errorf("Expected contact 3 enriched with Acme, got %q", got)
	}
}

func TestSearch_DeduplicatesDirectFirst(t *testing.T) {
	contacts := &fakeCollection{
		kind:       crm.KindContacts,
		searchHits: []crm.Record{contact("1", "Ada", "Lovelace")},
		records:    map[string]crm.Record{"1": contact("1", "Ada", "Lovelace")},
	}
	companies := &fakeCollection{
		kind:       crm.KindCompanies,
		searchHits: []crm.Record{company("A", "Acme")},
		records:    map[string]crm.Record{"A": company("A", "Acme")},
	}
	resolver := &fakeResolver{edges: map[string]map[string][]string{
		crm.KindContacts:  {"1": {"A"}},
		crm.KindCompanies: {"A": {"1"}},
	}}

	merger := NewMerger(contacts, companies, resolver, nil)
	results, err := merger.Search(context.Background(), "owner-1", "ada")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("Expected 1 deduplicated result, got %d", len(results))
	}
	if results[0].Source != SourceDirect {
		t.Errorf("Expected the direct occurrence to win, got %s", results[0].Source)
	}
}

func TestSearch_DerivedEnrichmentFillsDirectGap(t *testing.T) {
	// The direct branch has no association edge for contact 1, so its
	// result carries no enrichment. The derived duplicate does.
	contacts := &fakeCollection{
		kind:       crm.KindContacts,
		searchHits: []crm.Record{contact("1", "Ada", "Lovelace")},
		records:    map[string]crm.Record{"1": contact("1", "Ada", "Lovelace")},
	}
	companies := &fakeCollection{
		kind:       crm.KindCompanies,
		searchHits: []crm.Record{company("A", "Acme")},
	}
	resolver := &fakeResolver{edges: map[string]map[string][]string{
		crm.KindCompanies: {"A": {"1"}},
	}}

	merger := NewMerger(contacts, companies, resolver, nil)
	results, err := merger.Search(context.Background(), "owner-1", "acme")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Source != SourceDirect {
		t.Errorf("Expected direct occurrence kept, got %s", results[0].Source)
	}
	if got := results[0].Enrichment[EnrichmentCompanyName]; got != "Acme" {
		t.Errorf("Expected derived enrichment attached to direct result, got %q", got)
	}
}

func TestSearch_BranchFailureIsIsolated(t *testing.T) {
	contacts := &fakeCollection{
		kind:      crm.KindContacts,
		searchErr: errors.New("search unavailable"),
	}
	companies := &fakeCollection{
		kind:       crm.KindCompanies,
		searchHits: []crm.Record{company("A", "Acme")},
	}
	resolver := &fakeResolver{edges: map[string]map[string][]string{
		crm.KindCompanies: {"A": {"1"}},
	}}
	contacts.records = map[string]crm.Record{"1": contact("1", "Ada", "Lovelace")}

	merger := NewMerger(contacts, companies, resolver, nil)
	results, err := merger.Search(context.Background(), "owner-1", "acme")
	if err != nil {
		t.Fatalf("Expected partial results despite direct failure, got error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("Expected 1 derived result, got %d", len(results))
	}
	if results[0].Source != SourceDerived {
		t.Errorf("Expected derived result, got %s", results[0].Source)
	}
}

func TestSearch_BothBranchesFail(t *testing.T) {
	contacts := &fakeCollection{kind: crm.KindContacts, searchErr: errors.New("contacts down")}
	companies := &fakeCollection{kind: crm.KindCompanies, searchErr: errors.New("companies down")}
	resolver := &fakeResolver{}

	merger := NewMerger(contacts, companies, resolver, nil)
	_, err := merger.Search(context.Background(), "owner-1", "x")
	if err == nil {
		t.Fatal("Expected error when both branches fail")
	}
	if !strings.Contains(err.Error(), "contacts down") || !strings.Contains(err.Error(), "companies down") {
		t.Errorf("Expected both branch errors reported, got: %v", err)
	}
}

func TestSearch_RecordsDirectHits(t *testing.T) {
	contacts := &fakeCollection{
		kind:       crm.KindContacts,
		searchHits: []crm.Record{contact("1", "Ada", "Lovelace"), contact("2", "Alan", "Turing")},
	}
	companies := &fakeCollection{kind: crm.KindCompanies}
	resolver := &fakeResolver{}
	recorder := &fakeRecorder{}

	merger := NewMerger(contacts, companies, resolver, recorder)
	if _, err := merger.Search(context.Background(), "owner-1", "a"); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if recorder.calls != 1 {
		t.Fatalf("Expected 1 recorder call, got %d", recorder.calls)
	}
	if len(recorder.upserted) != 2 {
		t.Errorf("Expected 2 records handed to recorder, got %d", len(recorder.upserted))
	}
}

func TestSearch_RecorderFailureTolerated(t *testing.T) {
	contacts := &fakeCollection{
		kind:       crm.KindContacts,
		searchHits: []crm.Record{contact("1", "Ada", "Lovelace")},
	}
	companies := &fakeCollection{kind: crm.KindCompanies}
	resolver := &fakeResolver{}
	recorder := &fakeRecorder{err: errors.New("cache write failed")}

	merger := NewMerger(contacts, companies, resolver, recorder)
	results, err := merger.Search(context.Background(), "owner-1", "ada")
	if err != nil {
		t.Fatalf("Expected recorder failure to be tolerated, got: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected 1 result, got %d", len(results))
	}
}

func TestSearch_EmptyBranches(t *testing.T) {
	contacts := &fakeCollection{kind: crm.KindContacts}
	companies := &fakeCollection{kind: crm.KindCompanies}
	resolver := &fakeResolver{}

	merger := NewMerger(contacts, companies, resolver, nil)
	results, err := merger.Search(context.Background(), "owner-1", "nothing")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
	if resolver.calls != 0 {
		t.Errorf("Expected no association resolution for empty searches, got %d calls", resolver.calls)
	}
}

func TestSearch_FirstAssociationWins(t *testing.T) {
	contacts := &fakeCollection{
		kind:       crm.KindContacts,
		searchHits: []crm.Record{contact("1", "Ada", "Lovelace")},
	}
	companies := &fakeCollection{
		kind: crm.KindCompanies,
		records: map[string]crm.Record{
			"A": company("A", "Acme"),
			"B": company("B", "Initech"),
		},
	}
	resolver := &fakeResolver{edges: map[string]map[string][]string{
		crm.KindContacts: {"1": {"A", "B"}},
	}}

	merger := NewMerger(contacts, companies, resolver, nil)
	results, err := merger.Search(context.Background(), "owner-1", "ada")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if got := results[0].Enrichment[EnrichmentCompanyName]; got != "Acme" {
		t.Errorf("Expected the first associated company to win, got %q", got)
	}
}
