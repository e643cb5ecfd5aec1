package keep_test

import (
	"testing"

	"github.com/goraet/goraet/internal/keep"
)

func TestLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()

	fk, err := keep.NewFileKeep(dir)
	if err != nil {
		t.Fatalf("NewFileKeep: %v", err)
	}

	local := keep.LocalData{UID: 1, Name: "local", Host: "127.0.0.1", Port: 7530, SID: 3, StackName: "local", NEID: 9}
	safe := keep.SafeData{SignHex: "a", PriHex: "b", VerHex: "c", PubHex: "d", Auto: true}

	if err := fk.DumpLocal(local, safe); err != nil {
		t.Fatalf("DumpLocal: %v", err)
	}

	got, gotSafe, ok, err := fk.LoadLocalData()
	if err != nil || !ok {
		t.Fatalf("LoadLocalData: %v, %v", got, err)
	}

	if got != local {
		t.Fatalf("LoadLocalData = %+v, want %+v", got, local)
	}

	if gotSafe != safe {
		t.Fatalf("LoadLocalData safe = %+v, want %+v", gotSafe, safe)
	}

	if !fk.VerifyLocalData(got) {
		t.Fatal("VerifyLocalData should accept a round-tripped record")
	}
}

func TestRemoteRoundTripAndVerify(t *testing.T) {
	dir := t.TempDir()

	fk, err := keep.NewFileKeep(dir)
	if err != nil {
		t.Fatalf("NewFileKeep: %v", err)
	}

	valid := keep.RemoteData{
		Local: keep.LocalData{UID: 2, Name: "b"},
		Safe:  keep.SafeData{SignHex: "s", PriHex: "p", VerHex: "v", PubHex: "k"},
	}
	invalid := keep.RemoteData{
		Local: keep.LocalData{UID: 3, Name: "c"},
		Safe:  keep.SafeData{}, // safe half never verifies
	}

	if err := fk.DumpRemote(valid); err != nil {
		t.Fatalf("DumpRemote(valid): %v", err)
	}

	if err := fk.DumpRemote(invalid); err != nil {
		t.Fatalf("DumpRemote(invalid): %v", err)
	}

	all, err := fk.LoadAllRemoteData()
	if err != nil {
		t.Fatalf("LoadAllRemoteData: %v", err)
	}

	if len(all) != 2 {
		t.Fatalf("LoadAllRemoteData returned %d records, want 2", len(all))
	}

	var validCount int

	for _, d := range all {
		if fk.VerifyRemoteData(d) {
			validCount++
		}
	}

	if validCount != 1 {
		t.Fatalf("only the fully-keyed remote should verify; got %d verifying", validCount)
	}
}
