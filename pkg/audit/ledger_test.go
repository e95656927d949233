package audit

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/smachala/docvault/pkg/logging"
)

func newTestLedger(t *testing.T) (*Ledger, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ledger, err := NewLedger(db, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	return ledger, db
}

func TestRecordAndQuery(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	ledger.Record(ctx, NewEvent(KindDocumentCreated).WithDocument("d1"))
	ledger.Record(ctx, NewEvent(KindDocumentViewed).WithDocument("d1"))
	ledger.Record(ctx, NewEvent(KindSearchPerformed).WithPayload(map[string]any{"query_length": 7}))

	events, err := ledger.Query(ctx, Filter{}, 0, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	// Chronological order
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Error("events not in chronological order")
		}
	}

	// Conjunctive filters
	byDoc, err := ledger.Query(ctx, Filter{DocumentID: "d1"}, 0, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(byDoc) != 2 {
		t.Errorf("document filter returned %d events", len(byDoc))
	}

	byBoth, err := ledger.Query(ctx, Filter{DocumentID: "d1", Kind: KindDocumentViewed}, 0, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(byBoth) != 1 || byBoth[0].Kind != KindDocumentViewed {
		t.Errorf("combined filter returned %+v", byBoth)
	}

	// Payload round trip
	searches, _ := ledger.Query(ctx, Filter{Kind: KindSearchPerformed}, 0, 0)
	if len(searches) != 1 || searches[0].Payload["query_length"] != float64(7) {
		t.Errorf("payload lost: %+v", searches)
	}
}

func TestRecordRejectsUnknownKind(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	ledger.Record(ctx, &Event{Kind: Kind("made_up")})

	n, err := ledger.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("invalid kind was recorded")
	}
}

func TestRecordNeverFailsCaller(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()

	// Simulated storage failure: the database is gone
	db.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Must not panic and must not propagate an error
		ledger.Record(ctx, NewEvent(KindDocumentCreated).WithDocument("d1"))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("record blocked on a failed store")
	}
}

func TestRecordFailureNotifiesHook(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()

	failures := 0
	ledger.OnWriteFailure(func() { failures++ })

	ledger.Record(ctx, NewEvent(KindDocumentCreated))
	if failures != 0 {
		t.Errorf("hook fired on successful write")
	}

	db.Close()
	ledger.Record(ctx, NewEvent(KindDocumentCreated))
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
}

func TestRecordIdempotentRetry(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// A retried write reuses its pre-generated id and must not duplicate
	event := NewEvent(KindBackupExported)
	ledger.Record(ctx, event)
	ledger.Record(ctx, event)

	n, err := ledger.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("retried event duplicated: count=%d", n)
	}
}

func TestQueryDateRange(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		ev := NewEvent(KindDocumentViewed)
		ev.Timestamp = base.Add(time.Duration(i) * time.Minute)
		ledger.Record(ctx, ev)
	}

	from := base.Add(90 * time.Second)
	to := base.Add(210 * time.Second)
	events, err := ledger.Query(ctx, Filter{From: &from, To: &to}, 0, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("date range returned %d events, want 2", len(events))
	}
}

func TestQueryPagination(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ev := NewEvent(KindDocumentViewed)
		ev.Timestamp = time.Now().Add(time.Duration(i) * time.Millisecond)
		ledger.Record(ctx, ev)
	}

	page1, err := ledger.Query(ctx, Filter{}, 4, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	page2, err := ledger.Query(ctx, Filter{}, 4, 4)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(page1) != 4 || len(page2) != 4 {
		t.Fatalf("page sizes %d/%d, want 4/4", len(page1), len(page2))
	}
	if page1[3].ID == page2[0].ID {
		t.Error("pages overlap")
	}
}

func TestSummarize(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	ledger.Record(ctx, NewEvent(KindAuthSuccess))
	ledger.Record(ctx, NewEvent(KindAuthFailure))
	ledger.Record(ctx, NewEvent(KindAuthFailure))
	ledger.Record(ctx, NewEvent(KindDocumentCreated).WithDocument("d1"))
	ledger.Record(ctx, NewEvent(KindDocumentViewed).WithDocument("d1"))
	ledger.Record(ctx, NewEvent(KindDocumentCreated).WithDocument("d2"))

	summary, err := ledger.Summarize(ctx, nil, nil)
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}

	if summary.TotalEvents != 6 {
		t.Errorf("total = %d, want 6", summary.TotalEvents)
	}
	if summary.AuthSuccess != 1 || summary.AuthFailures != 2 {
		t.Errorf("auth counts = %d/%d, want 1/2", summary.AuthSuccess, summary.AuthFailures)
	}
	if summary.ByKind[KindDocumentCreated] != 2 {
		t.Errorf("per-kind count = %d, want 2", summary.ByKind[KindDocumentCreated])
	}
	if summary.ByDocument["d1"] != 2 || summary.ByDocument["d2"] != 1 {
		t.Errorf("per-document counts = %v", summary.ByDocument)
	}
}

func TestAppendOnlyNoMutationPath(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// N records in, exactly N events out
	const n = 25
	for i := 0; i < n; i++ {
		ledger.Record(ctx, NewEvent(KindKeyAccess))
	}

	events, err := ledger.Query(ctx, Filter{}, 0, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != n {
		t.Errorf("expected %d events, got %d", n, len(events))
	}
}

func TestExportThenClear(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	ledger.Record(ctx, NewEvent(KindDocumentCreated).WithDocument("d1"))
	ledger.Record(ctx, NewEvent(KindDocumentDeleted).WithDocument("d1"))

	var buf bytes.Buffer
	exported, err := ledger.ExportThenClear(ctx, &buf)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if exported != 2 {
		t.Errorf("exported %d events, want 2", exported)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("export stream has %d lines, want 2", len(lines))
	}

	// The clear left exactly one event: the audited clear marker
	events, err := ledger.Query(ctx, Filter{}, 0, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 || events[0].Kind != KindSettingsChanged {
		t.Errorf("expected only the clear marker, got %+v", events)
	}
	if events[0].Payload["exported_events"] != float64(2) {
		t.Errorf("clear marker payload = %v", events[0].Payload)
	}
}

func TestConcurrentRecord(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 20

	done := make(chan struct{}, writers)
	for w := 0; w < writers; w++ {
		go func() {
			for i := 0; i < perWriter; i++ {
				ledger.Record(ctx, NewEvent(KindDocumentViewed))
			}
			done <- struct{}{}
		}()
	}
	for w := 0; w < writers; w++ {
		<-done
	}

	n, err := ledger.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != writers*perWriter {
		t.Errorf("count = %d, want %d", n, writers*perWriter)
	}
}
