package postgres

import (
	"context"
	"os"
	"reflect"
	"testing"

	"tilecore/pkg/domain"
)

// openTestStore connects to the database named by TILECORE_PG_DSN. Postgres
// coverage is an integration concern; without a reachable database the tests
// skip rather than fail.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TILECORE_PG_DSN")
	if dsn == "" {
		t.Skip("TILECORE_PG_DSN not set; skipping postgres integration test")
	}
	store, err := NewStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleDocument(id string) domain.DocumentSnapshot {
	return domain.DocumentSnapshot{
		ID: id,
		SharedModels: []domain.SharedModelEntrySnapshot{{
			SharedModel: domain.SharedDataSetSnapshot{
				ID:   "sm-1",
				Type: domain.SharedDataSetType,
				Name: "animals",
				DataSet: domain.DataSetSnapshot{
					ID:   "ds-1",
					Name: "animals",
					Attributes: []domain.AttributeSnapshot{
						{ID: "a1", Name: "animal", Values: []string{"cat"}},
					},
					Cases: []domain.CaseSnapshot{{ID: "c1"}},
				},
			},
			TileIDs: []string{"t1"},
		}},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	doc := sampleDocument("it-doc-1")
	t.Cleanup(func() { _, _ = store.DeleteDocument(ctx, doc.ID) })

	if err := store.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, ok, err := store.LoadDocument(ctx, doc.ID)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(loaded, doc) {
		t.Fatalf("round-trip drifted:\n got %+v\nwant %+v", loaded, doc)
	}

	existed, err := store.DeleteDocument(ctx, doc.ID)
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	if _, ok, _ := store.LoadDocument(ctx, doc.ID); ok {
		t.Fatalf("deleted document still loads")
	}
}

func TestStoreUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	doc := sampleDocument("it-doc-2")
	t.Cleanup(func() { _, _ = store.DeleteDocument(ctx, doc.ID) })

	if err := store.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc.SharedModels[0].SharedModel.Name = "renamed"
	if err := store.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("resave: %v", err)
	}
	loaded, _, err := store.LoadDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SharedModels[0].SharedModel.Name != "renamed" {
		t.Fatalf("upsert lost update: %q", loaded.SharedModels[0].SharedModel.Name)
	}
}

func TestStoreRejectsInvalidSnapshot(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveDocument(context.Background(), domain.DocumentSnapshot{}); err == nil {
		t.Fatalf("expected validation error")
	}
}
