package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/smachala/docvault/pkg/audit"
	"github.com/smachala/docvault/pkg/crypto"
	"github.com/smachala/docvault/pkg/logging"
	"github.com/smachala/docvault/pkg/vault"
)

type staticKeys struct {
	dek []byte
}

func (k *staticKeys) DEK() ([]byte, error) { return k.dek, nil }

type fixture struct {
	store  *vault.Store
	ledger *audit.Ledger
	codec  *Codec
	keys   *staticKeys
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := vault.Open(t.TempDir(), logging.NewNopLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	auditDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("failed to open audit database: %v", err)
	}
	t.Cleanup(func() { auditDB.Close() })

	ledger, err := audit.NewLedger(auditDB, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}

	dek, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate DEK: %v", err)
	}

	return &fixture{
		store:  store,
		ledger: ledger,
		codec:  NewCodec(store, ledger, logging.NewNopLogger()),
		keys:   &staticKeys{dek: dek},
	}
}

func (f *fixture) addDocument(t *testing.T, id, title, text string) {
	t.Helper()
	doc := &vault.Document{
		ID:        id,
		Title:     title,
		OCRText:   text,
		Checksum:  strings.Repeat("ab", 32),
		SizeBytes: 512,
	}
	if err := f.store.Put(context.Background(), doc, f.keys); err != nil {
		t.Fatalf("put failed: %v", err)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	password := []byte("correct horse battery")

	f.addDocument(t, "d1", "Invoice A", "payment for mangoes")
	f.addDocument(t, "d2", "Invoice B", "payment for papayas")
	f.addDocument(t, "d3", "Receipt", "hardware store")

	record, err := f.codec.Create(ctx, password, CreateOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.DocumentCount != 3 {
		t.Errorf("document count = %d, want 3", record.DocumentCount)
	}
	if !record.Encrypted || record.AppVersion == "" || record.ID == "" {
		t.Errorf("incomplete record: %+v", record)
	}
	if len(record.Checksum) != crypto.ChecksumLength {
		t.Errorf("checksum length = %d", len(record.Checksum))
	}

	// The sidecar round-trips
	loaded, err := LoadRecord(record.LocalPath + recordSuffix)
	if err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if loaded.Checksum != record.Checksum || loaded.ID != record.ID {
		t.Errorf("sidecar mismatch: %+v", loaded)
	}

	// Mutate the live store after the backup, then restore over it
	f.addDocument(t, "d4", "Later", "written after backup")
	if err := f.store.SoftDelete(ctx, "d1", f.keys); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	if err := f.codec.Restore(ctx, record, password, RestoreOptions{}); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if err := f.store.LoadIndex(ctx, f.keys); err != nil {
		t.Fatalf("load index failed: %v", err)
	}

	got, err := f.store.Get(ctx, "d1", f.keys)
	if err != nil {
		t.Fatalf("get after restore failed: %v", err)
	}
	if got.Title != "Invoice A" || got.OCRText != "payment for mangoes" {
		t.Errorf("restored document wrong: %+v", got)
	}
	if _, err := f.store.Get(ctx, "d4", f.keys); !errors.Is(err, vault.ErrNotFound) {
		t.Errorf("post-backup document survived restore: %v", err)
	}

	results, err := f.store.Search(ctx, "mangoes", 10, 0)
	if err != nil {
		t.Fatalf("search after restore failed: %v", err)
	}
	if len(results) != 1 || results[0].DocID != "d1" {
		t.Errorf("search after restore: %+v", results)
	}
}

func TestBackupArtifactIsOpaque(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDocument(t, "d1", "Secret Deed", "the hidden orchard")

	record, err := f.codec.Create(ctx, []byte("pw"), CreateOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	raw, err := os.ReadFile(record.LocalPath)
	if err != nil {
		t.Fatalf("read artifact failed: %v", err)
	}
	for _, marker := range []string{"Secret Deed", "hidden orchard", "vault.db"} {
		if strings.Contains(string(raw), marker) {
			t.Errorf("artifact leaks plaintext marker %q", marker)
		}
	}
	if int64(len(raw)) != record.SizeBytes {
		t.Errorf("size mismatch: %d vs %d", len(raw), record.SizeBytes)
	}
}

func TestRestoreChecksumBeforeDecrypt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDocument(t, "d1", "Invoice A", "payment for mangoes")

	record, err := f.codec.Create(ctx, []byte("pw"), CreateOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Corrupt one artifact byte: even with the right password this must
	// be reported as an integrity failure, not an authentication one
	raw, err := os.ReadFile(record.LocalPath)
	if err != nil {
		t.Fatalf("read artifact failed: %v", err)
	}
	raw[len(raw)/2] ^= 0x01
	if err := os.WriteFile(record.LocalPath, raw, 0600); err != nil {
		t.Fatalf("write artifact failed: %v", err)
	}

	err = f.codec.Restore(ctx, record, []byte("pw"), RestoreOptions{})
	if !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
	if errors.Is(err, crypto.ErrAuthenticationFailed) {
		t.Error("integrity failure misreported as authentication failure")
	}
}

func TestRestoreWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDocument(t, "d1", "Invoice A", "payment for mangoes")

	record, err := f.codec.Create(ctx, []byte("right password"), CreateOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err = f.codec.Restore(ctx, record, []byte("wrong password"), RestoreOptions{})
	if !errors.Is(err, crypto.ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
	if errors.Is(err, ErrIntegrity) {
		t.Error("wrong password misreported as integrity failure")
	}

	// The failed restore must leave the live store untouched
	if _, err := f.store.Get(ctx, "d1", f.keys); err != nil {
		t.Errorf("live store damaged by failed restore: %v", err)
	}
}

func TestBackupThroughLocalGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDocument(t, "d1", "Invoice A", "payment for mangoes")

	remoteDir := t.TempDir()
	gateway, err := NewLocalGateway(remoteDir)
	if err != nil {
		t.Fatalf("gateway failed: %v", err)
	}

	record, err := f.codec.Create(ctx, []byte("pw"), CreateOptions{
		Dir:        t.TempDir(),
		Gateway:    gateway,
		RemotePath: "offsite.dvb",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.RemotePath != "offsite.dvb" {
		t.Errorf("remote path = %q", record.RemotePath)
	}
	if _, err := os.Stat(filepath.Join(remoteDir, "offsite.dvb")); err != nil {
		t.Errorf("artifact not uploaded: %v", err)
	}

	// Restore from the remote copy only
	record.LocalPath = ""
	if err := f.codec.Restore(ctx, record, []byte("pw"), RestoreOptions{Gateway: gateway}); err != nil {
		t.Fatalf("restore from gateway failed: %v", err)
	}
	if err := f.store.LoadIndex(ctx, f.keys); err != nil {
		t.Fatalf("load index failed: %v", err)
	}
	if _, err := f.store.Get(ctx, "d1", f.keys); err != nil {
		t.Errorf("get after gateway restore failed: %v", err)
	}
}

func TestBackupAuditEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDocument(t, "d1", "Invoice A", "payment for mangoes")

	record, err := f.codec.Create(ctx, []byte("pw"), CreateOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := f.codec.Restore(ctx, record, []byte("pw"), RestoreOptions{}); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	exported, err := f.ledger.Query(ctx, audit.Filter{Kind: audit.KindBackupExported}, 0, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(exported) != 1 || exported[0].Payload["backup_id"] != record.ID {
		t.Errorf("export event: %+v", exported)
	}

	restored, err := f.ledger.Query(ctx, audit.Filter{Kind: audit.KindBackupRestored}, 0, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(restored) != 1 || restored[0].Payload["document_count"] != float64(1) {
		t.Errorf("restore event: %+v", restored)
	}

	keyAccess, err := f.ledger.Query(ctx, audit.Filter{Kind: audit.KindKeyAccess}, 0, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(keyAccess) != 2 {
		t.Fatalf("key access events = %d, want 2", len(keyAccess))
	}
	ops := map[string]bool{}
	for _, ev := range keyAccess {
		if ev.Payload["key"] != "bek" {
			t.Errorf("key access payload: %+v", ev.Payload)
		}
		ops[fmt.Sprint(ev.Payload["operation"])] = true
	}
	if !ops["backup_create"] || !ops["backup_restore"] {
		t.Errorf("key access operations: %v", ops)
	}
}

func TestRestorePreservesCallerStagingDir(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDocument(t, "d1", "Invoice A", "payment for mangoes")

	record, err := f.codec.Create(ctx, []byte("pw"), CreateOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stagingDir := t.TempDir()
	sentinel := filepath.Join(stagingDir, "keep.txt")
	if err := os.WriteFile(sentinel, []byte("mine"), 0600); err != nil {
		t.Fatalf("write sentinel failed: %v", err)
	}

	err = f.codec.Restore(ctx, record, []byte("pw"), RestoreOptions{StagingDir: stagingDir})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	// The caller's directory and its contents survive; only the staged
	// subdirectory was cleaned up
	if _, err := os.Stat(sentinel); err != nil {
		t.Errorf("restore removed caller's file: %v", err)
	}
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "keep.txt" {
		t.Errorf("staging leftovers: %v", entries)
	}
}

func TestCreateRejectsEmptyPassword(t *testing.T) {
	f := newFixture(t)

	if _, err := f.codec.Create(context.Background(), nil, CreateOptions{Dir: t.TempDir()}); err == nil {
		t.Error("expected error for empty password")
	}
}
