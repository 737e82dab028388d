package database

import (
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	old := DB
	DB = nil
	if err := Init(filepath.Join(t.TempDir(), "webterm.db")); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		Close()
		DB = old
	})
}

func TestInitWithEmptyPath(t *testing.T) {
	old := DB
	DB = nil
	t.Cleanup(func() { DB = old })

	if err := Init(""); err != nil {
		t.Fatalf("Init with empty path: %v", err)
	}
	if DB != nil {
		t.Error("expected DB to stay nil when no path is configured")
	}
}

func TestCreateAndFinalizeSessionRecord(t *testing.T) {
	setupTestDB(t)

	rec := SessionRecord{
		SessionID:   "11111111-1111-1111-1111-111111111111",
		Host:        "10.0.0.5",
		Port:        22,
		Username:    "deploy",
		ConnectedAt: time.Now(),
	}
	if err := DB.Create(&rec).Error; err != nil {
		t.Fatalf("create record: %v", err)
	}

	now := time.Now()
	err := DB.Model(&SessionRecord{}).
		Where("session_id = ? AND closed_at IS NULL", rec.SessionID).
		Updates(map[string]interface{}{
			"closed_at":    &now,
			"close_reason": "client disconnected",
			"bytes_in":     128,
			"bytes_out":    4096,
		}).Error
	if err != nil {
		t.Fatalf("finalize record: %v", err)
	}

	var got SessionRecord
	if err := DB.Where("session_id = ?", rec.SessionID).First(&got).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if got.ClosedAt == nil {
		t.Fatal("closed_at not set")
	}
	if got.CloseReason != "client disconnected" {
		t.Errorf("unexpected close reason %q", got.CloseReason)
	}
	if got.BytesOut != 4096 {
		t.Errorf("unexpected bytes_out %d", got.BytesOut)
	}
}

func TestSessionIDUnique(t *testing.T) {
	setupTestDB(t)

	rec := SessionRecord{SessionID: "dup", Host: "h", Port: 22, Username: "u", ConnectedAt: time.Now()}
	if err := DB.Create(&rec).Error; err != nil {
		t.Fatalf("create record: %v", err)
	}
	dup := SessionRecord{SessionID: "dup", Host: "h", Port: 22, Username: "u", ConnectedAt: time.Now()}
	if err := DB.Create(&dup).Error; err == nil {
		t.Error("expected unique constraint violation")
	}
}

func TestPruneSessionRecords(t *testing.T) {
	setupTestDB(t)

	oldClose := time.Now().Add(-48 * time.Hour)
	recentClose := time.Now().Add(-time.Hour)
	records := []SessionRecord{
		{SessionID: "old", Host: "h", Port: 22, Username: "u", ConnectedAt: oldClose.Add(-time.Hour), ClosedAt: &oldClose},
		{SessionID: "recent", Host: "h", Port: 22, Username: "u", ConnectedAt: recentClose.Add(-time.Hour), ClosedAt: &recentClose},
		{SessionID: "live", Host: "h", Port: 22, Username: "u", ConnectedAt: time.Now()},
	}
	for i := range records {
		if err := DB.Create(&records[i]).Error; err != nil {
			t.Fatalf("create record %d: %v", i, err)
		}
	}

	n, err := PruneSessionRecords(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned record, got %d", n)
	}

	var remaining []SessionRecord
	if err := DB.Find(&remaining).Error; err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining records, got %d", len(remaining))
	}
	for _, r := range remaining {
		if r.SessionID == "old" {
			t.Error("expired record survived pruning")
		}
	}
}

func TestPruneWithoutDatabase(t *testing.T) {
	old := DB
	DB = nil
	t.Cleanup(func() { DB = old })

	n, err := PruneSessionRecords(time.Hour)
	if err != nil {
		t.Fatalf("prune without db: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}
