package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestUpsertAndLoadUnreadCounts(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertUnreadCount(10, 3); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertUnreadCount(10, 5); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertUnreadCount(20, 1); err != nil {
		t.Fatal(err)
	}

	counts, err := db.LoadUnreadCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts[10] != 5 {
		t.Errorf("counts[10] = %d, want 5 (upsert replaces)", counts[10])
	}
	if counts[20] != 1 {
		t.Errorf("counts[20] = %d, want 1", counts[20])
	}
}

func TestReplaceUnreadCounts(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertUnreadCount(7, 3); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceUnreadCounts(map[int64]int{5: 2}); err != nil {
		t.Fatal(err)
	}

	counts, err := db.LoadUnreadCounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 1 || counts[5] != 2 {
		t.Errorf("counts = %v, want map[5:2] (full replace)", counts)
	}
}

func TestInsertUnreadMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &UnreadMessage{ID: 100, ConversationID: 10, Sender: 2, Content: "hi"}
	if err := db.InsertUnreadMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertUnreadMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListUnreadMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1 (insert is idempotent by id)", len(msgs))
	}
}

func TestListUnreadMessagesAppendOrder(t *testing.T) {
	db := testDB(t)

	// Insert out of id order; append order must be preserved.
	for _, id := range []int64{30, 10, 20} {
		if err := db.InsertUnreadMessage(&UnreadMessage{ID: id, ConversationID: 1, Sender: 2}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListUnreadMessages()
	if err != nil {
		t.Fatal(err)
	}
	var ids []int64
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	want := []int64{30, 10, 20}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestDeleteUnreadMessagesFor(t *testing.T) {
	db := testDB(t)

	if err := db.InsertUnreadMessage(&UnreadMessage{ID: 1, ConversationID: 10, Sender: 2}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertUnreadMessage(&UnreadMessage{ID: 2, ConversationID: 20, Sender: 2}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteUnreadMessagesFor(10); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListUnreadMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ConversationID != 20 {
		t.Errorf("msgs = %+v, want only conversation 20", msgs)
	}
}

func TestDeleteUnreadMessage(t *testing.T) {
	db := testDB(t)

	if err := db.InsertUnreadMessage(&UnreadMessage{ID: 1, ConversationID: 10, Sender: 2}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteUnreadMessage(1); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListUnreadMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}
