package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := store.Append(Record{
			ObjectKey: "alice/response_1.csv",
			User:      "alice",
			Size:      int64(i),
			Status:    StatusOK,
			Time:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].Size != 2 || recent[1].Size != 1 {
		t.Errorf("expected newest first, got sizes %d, %d", recent[0].Size, recent[1].Size)
	}
}

func TestSeenSession(t *testing.T) {
	store := newTestStore(t)

	payload := []byte("Episode,Step\n1,2")
	sum := Checksum(payload)

	seen, err := store.SeenSession("alice", "abc123", sum)
	if err != nil {
		t.Fatalf("SeenSession: %v", err)
	}
	if seen {
		t.Error("unknown session reported as seen")
	}

	err = store.Append(Record{
		ObjectKey: "alice/abc123.csv",
		User:      "alice",
		Session:   "abc123",
		Checksum:  sum,
		Status:    StatusOK,
		Time:      time.Now(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	seen, err = store.SeenSession("alice", "abc123", sum)
	if err != nil {
		t.Fatalf("SeenSession: %v", err)
	}
	if !seen {
		t.Error("identical session payload not reported as seen")
	}

	// A different payload for the same session is not a duplicate.
	seen, _ = store.SeenSession("alice", "abc123", Checksum([]byte("other")))
	if seen {
		t.Error("different checksum reported as seen")
	}
}

func TestFailedUploadDoesNotMarkSession(t *testing.T) {
	store := newTestStore(t)

	sum := Checksum([]byte("x"))
	err := store.Append(Record{
		User: "bob", Session: "s1", Checksum: sum,
		Status: StatusRejected, HTTPStatus: 403, Time: time.Now(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seen, _ := store.SeenSession("bob", "s1", sum); seen {
		t.Error("rejected upload must not mark the session as uploaded")
	}
}

func TestCounts(t *testing.T) {
	store := newTestStore(t)

	for _, status := range []string{StatusOK, StatusOK, StatusRejected, StatusUnreachable} {
		if err := store.Append(Record{Status: status, Time: time.Now()}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	counts, err := store.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[StatusOK] != 2 || counts[StatusRejected] != 1 || counts[StatusUnreachable] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
