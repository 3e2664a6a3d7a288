package fabric

import (
	"bytes"
	"testing"

	"github.com/opmesh/casekit/pkg/crypto"
)

func testFabric(t *testing.T, fabricID, nodeID uint64) *Fabric {
	t.Helper()

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	root, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	epochKey := make([]byte, EpochKeySize)
	for i := range epochKey {
		epochKey[i] = byte(fabricID) + byte(i)
	}
	var cfid [crypto.CompressedFabricIDSize]byte
	cfid[0] = byte(fabricID)

	f, err := New(fabricID, nodeID, root.PublicKey(), cfid, epochKey,
		[]byte("noc-for-test"), nil, kp)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return f
}

func TestNew_Validation(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	root, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	epochKey := make([]byte, EpochKeySize)
	var cfid [crypto.CompressedFabricIDSize]byte

	if _, err := New(1, 2, make([]byte, 10), cfid, epochKey, []byte("noc"), nil, kp); err == nil {
		t.Error("bad root public key accepted")
	}
	if _, err := New(1, 2, root.PublicKey(), cfid, epochKey[:8], []byte("noc"), nil, kp); err != ErrInvalidEpochKey {
		t.Errorf("short epoch key: got %v", err)
	}
	if _, err := New(1, 2, root.PublicKey(), cfid, epochKey, nil, nil, kp); err != ErrMissingNOC {
		t.Errorf("missing NOC: got %v", err)
	}
	if _, err := New(1, 2, root.PublicKey(), cfid, epochKey, []byte("noc"), nil, nil); err != ErrMissingKeyPair {
		t.Errorf("missing key pair: got %v", err)
	}
}

func TestNew_CopiesInputs(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	root, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	epochKey := make([]byte, EpochKeySize)
	noc := []byte("original-noc")
	icac := []byte("original-icac")
	var cfid [crypto.CompressedFabricIDSize]byte

	f, err := New(1, 2, root.PublicKey(), cfid, epochKey, noc, icac, kp)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	noc[0] = 'X'
	icac[0] = 'X'
	if !bytes.Equal(f.NOC, []byte("original-noc")) {
		t.Error("NOC aliases caller slice")
	}
	if !bytes.Equal(f.ICAC, []byte("original-icac")) {
		t.Error("ICAC aliases caller slice")
	}
	if !f.HasICAC() {
		t.Error("HasICAC false with ICAC present")
	}
}

func TestFabric_IPK(t *testing.T) {
	f := testFabric(t, 1, 100)

	ipk, err := f.IPK()
	if err != nil {
		t.Fatalf("IPK failed: %v", err)
	}
	if len(ipk) != crypto.SymmetricKeySize {
		t.Fatalf("IPK length %d, want %d", len(ipk), crypto.SymmetricKeySize)
	}

	// Same epoch key under another fabric yields a different IPK.
	other := testFabric(t, 1, 100)
	other.EpochKey = f.EpochKey
	other.CompressedFabricID[0] = 0x42
	otherIPK, err := other.IPK()
	if err != nil {
		t.Fatalf("IPK failed: %v", err)
	}
	if bytes.Equal(ipk, otherIPK) {
		t.Error("distinct fabrics derived identical IPK")
	}
}

func TestTable(t *testing.T) {
	tbl := NewTable()

	f1 := testFabric(t, 1, 100)
	f2 := testFabric(t, 2, 200)

	if err := tbl.Add(f1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := tbl.Add(f2); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := tbl.Add(testFabric(t, 1, 100)); err != ErrFabricExists {
		t.Errorf("duplicate Add: got %v", err)
	}
	if tbl.Len() != 2 {
		t.Errorf("Len = %d, want 2", tbl.Len())
	}

	got, err := tbl.Lookup(2, 200)
	if err != nil || got != f2 {
		t.Errorf("Lookup(2, 200) = %v, %v", got, err)
	}
	if _, err := tbl.Lookup(3, 300); err != ErrFabricNotFound {
		t.Errorf("Lookup missing: got %v", err)
	}

	found, err := tbl.Find(func(f *Fabric) bool { return f.NodeID == 100 })
	if err != nil || found != f1 {
		t.Errorf("Find by node = %v, %v", found, err)
	}

	if err := tbl.Remove(1, 100); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := tbl.Remove(1, 100); err != ErrFabricNotFound {
		t.Errorf("second Remove: got %v", err)
	}
	if tbl.Len() != 1 {
		t.Errorf("Len after Remove = %d, want 1", tbl.Len())
	}
}

func TestResumptionStore(t *testing.T) {
	store := NewResumptionStore()

	rec := &ResumptionRecord{
		ResumptionID: [ResumptionIDSize]byte{1},
		SharedSecret: crypto.NewSecretBuffer([]byte("shared-secret-1")),
		FabricID:     1,
		PeerNodeID:   100,
	}
	store.Save(rec)

	got, err := store.FindByID(rec.ResumptionID)
	if err != nil || got != rec {
		t.Fatalf("FindByID = %v, %v", got, err)
	}
	got, err = store.FindByPeer(1, 100)
	if err != nil || got != rec {
		t.Fatalf("FindByPeer = %v, %v", got, err)
	}

	// Saving a newer record for the same peer evicts and wipes the old.
	newer := &ResumptionRecord{
		ResumptionID: [ResumptionIDSize]byte{2},
		SharedSecret: crypto.NewSecretBuffer([]byte("shared-secret-2")),
		FabricID:     1,
		PeerNodeID:   100,
	}
	store.Save(newer)

	if store.Len() != 1 {
		t.Errorf("Len after rotation = %d, want 1", store.Len())
	}
	if !rec.SharedSecret.IsEmpty() {
		t.Error("old record secret not wiped on rotation")
	}
	if _, err := store.FindByID(rec.ResumptionID); err != ErrResumptionNotFound {
		t.Errorf("stale resumption ID still resolves: %v", err)
	}

	if err := store.Delete(newer.ResumptionID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !newer.SharedSecret.IsEmpty() {
		t.Error("secret not wiped on Delete")
	}
	if err := store.Delete(newer.ResumptionID); err != ErrResumptionNotFound {
		t.Errorf("second Delete: got %v", err)
	}
}

func TestResumptionStore_Clear(t *testing.T) {
	store := NewResumptionStore()
	a := &ResumptionRecord{
		ResumptionID: [ResumptionIDSize]byte{1},
		SharedSecret: crypto.NewSecretBuffer([]byte("a")),
		FabricID:     1, PeerNodeID: 1,
	}
	b := &ResumptionRecord{
		ResumptionID: [ResumptionIDSize]byte{2},
		SharedSecret: crypto.NewSecretBuffer([]byte("b")),
		FabricID:     2, PeerNodeID: 2,
	}
	store.Save(a)
	store.Save(b)

	store.Clear()
	if store.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", store.Len())
	}
	if !a.SharedSecret.IsEmpty() || !b.SharedSecret.IsEmpty() {
		t.Error("secrets not wiped on Clear")
	}
}
