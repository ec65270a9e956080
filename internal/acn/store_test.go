package acn

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRecord(address string) *AgentRecord {
	return &AgentRecord{
		Address:                 address,
		PublicKey:               "pub-" + address,
		RepresentativePublicKey: "rep-" + address,
		MessageFormat:           DefaultMessageFormat,
		Signature:               "sig-" + address,
		LedgerID:                "fetchai",
		NotBefore:               time.Now().Add(-time.Hour),
		NotAfter:                time.Now().Add(time.Hour),
	}
}

func TestRecordStoreSavesAndReplays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records")

	store, loaded, err := OpenRecordStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty store, got %d records", len(loaded))
	}

	if err := store.Save(testRecord("fetch1aaa")); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(testRecord("fetch1bbb")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	_, reloaded, err := OpenRecordStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded) != 2 {
		t.Fatalf("expected 2 replayed records, got %d", len(reloaded))
	}
	if reloaded["fetch1aaa"].Signature != "sig-fetch1aaa" {
		t.Fatalf("unexpected replayed record: %+v", reloaded["fetch1aaa"])
	}
}

func TestRecordStoreAbortsOnCorruptTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records")

	store, _, err := OpenRecordStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(testRecord("fetch1aaa")); err != nil {
		t.Fatal(err)
	}
	store.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_RDWR, 0600)
	if err != nil {
		t.Fatal(err)
	}
	// a length prefix promising a body that was never written: a crash
	// mid-write of the next record.
	f.Write([]byte{0, 0, 0, 100})
	f.Close()

	if _, _, err := OpenRecordStore(path); err == nil {
		t.Fatal("expected OpenRecordStore to abort on a corrupt tail")
	}
}
