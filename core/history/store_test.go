package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"iwms/core/batch"
	"iwms/core/compress"
	"iwms/core/conflict"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleReport(id string, started time.Time, n int) *batch.Report {
	records := make([]batch.ResultRecord, n)
	for i := range records {
		records[i] = batch.ResultRecord{
			SourcePath:   fmt.Sprintf("/in/file-%03d.jpg", i),
			OriginalName: fmt.Sprintf("file-%03d.jpg", i),
			NewName:      fmt.Sprintf("new-%03d.jpg", i),
			Status:       batch.StatusSuccess,
		}
	}
	return &batch.Report{
		RunID:      id,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Options: batch.Options{
			OutputRoot: "/out",
			Policy:     conflict.PolicyAppend,
			Constraint: compress.DimensionConstraint(1920),
		},
		Results: records,
		Summary: batch.Summarize(records, 0, 1),
	}
}

// TestSaveAndGetRun 测试保存与读取，包括超过阈值后的压缩存储
func TestSaveAndGetRun(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().Truncate(time.Second)

	for _, n := range []int{2, 200} {
		t.Run(fmt.Sprintf("records=%d", n), func(t *testing.T) {
			id := fmt.Sprintf("run-%d", n)
			if err := store.SaveRun(sampleReport(id, now, n)); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}

			got, err := store.GetRun(id)
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if len(got.Results) != n || got.Summary.Total != n {
				t.Errorf("got %d records, summary %+v", len(got.Results), got.Summary)
			}
			if got.Options.Policy != conflict.PolicyAppend || got.Options.Constraint.Value != 1920 {
				t.Errorf("options = %+v", got.Options)
			}
			if !got.StartedAt.Equal(now) {
				t.Errorf("StartedAt = %v, want %v", got.StartedAt, now)
			}
		})
	}
}

// TestListRunsNewestFirst 测试倒序列出与数量限制
func TestListRunsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	base := time.Now()
	for i, id := range []string{"a-old", "b-mid", "c-new"} {
		if err := store.SaveRun(sampleReport(id, base.Add(time.Duration(i)*time.Minute), 1)); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "c-new" || runs[1].ID != "b-mid" {
		t.Errorf("runs = %+v", runs)
	}

	removed, err := store.Prune(1)
	if err != nil || removed != 2 {
		t.Fatalf("Prune = %d, %v", removed, err)
	}
	if _, err := store.GetRun("a-old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("pruned run still readable: %v", err)
	}
}

// TestGetRunByPrefix 测试按前缀查找
func TestGetRunByPrefix(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	_ = store.SaveRun(sampleReport("abc123", now, 1))
	_ = store.SaveRun(sampleReport("abd456", now, 1))

	got, err := store.GetRun("abc")
	if err != nil || got.RunID != "abc123" {
		t.Errorf("GetRun(abc) = %v, %v", got, err)
	}
	if _, err := store.GetRun("ab"); !errors.Is(err, ErrAmbiguous) {
		t.Errorf("expected ambiguous error, got %v", err)
	}
	if _, err := store.GetRun("zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSaveRunRequiresID(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveRun(&batch.Report{}); err == nil {
		t.Error("expected error for a report without run id")
	}
}

// TestPrune 测试只保留最近的运行，压缩存储的记录一并删除
func TestPrune(t *testing.T) {
	store := openTestStore(t)
	base := time.Now().Truncate(time.Second)

	// run-0 最旧；run-1 的记录超过压缩阈值
	for i, n := range []int{2, 200, 2, 2} {
		id := fmt.Sprintf("run-%d", i)
		if err := store.SaveRun(sampleReport(id, base.Add(time.Duration(i)*time.Minute), n)); err != nil {
			t.Fatalf("SaveRun(%s): %v", id, err)
		}
	}

	removed, err := store.Prune(2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	runs, err := store.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Errorf("remaining runs = %+v", runs)
	}
	for _, id := range []string{"run-0", "run-1"} {
		if _, err := store.GetRun(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRun(%s) err = %v, want ErrNotFound", id, err)
		}
	}
	_ = store.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(recordsBucket))
		if records.Get([]byte(compressedPrefix+"run-1")) != nil || records.Get([]byte("run-0")) != nil {
			t.Error("records of pruned runs should be deleted")
		}
		return nil
	})

	if removed, err := store.Prune(5); err != nil || removed != 0 {
		t.Errorf("Prune(5) = %d, %v, want nothing removed", removed, err)
	}
	if removed, err := store.Prune(0); err != nil || removed != 0 {
		t.Errorf("Prune(0) = %d, %v, want no-op", removed, err)
	}
}
