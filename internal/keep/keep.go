// Package keep implements typed, verifying persistence for the local
// estate and remote records.
//
// Two halves co-exist per estate: a plain keep (address and session-id
// identity) and a safe keep (cryptographic key material and acceptance
// state). A remote record is valid only if both keeps verify.
package keep

import "github.com/goraet/goraet/internal/estate"

// LocalData is the plaintext-identity half of a keep record (uid, name,
// ha, sid, stackname, neid).
type LocalData struct {
	UID       uint32
	Name      string
	Host      string
	Port      uint16
	SID       uint32
	StackName string
	NEID      uint32
}

// SafeData is the cryptographic half of a keep record.
type SafeData struct {
	SignHex    string
	PriHex     string
	VerHex     string
	PubHex     string
	Acceptance estate.Acceptance
	Auto       bool
}

// RemoteData bundles both halves for a single remote.
type RemoteData struct {
	Local LocalData
	Safe  SafeData
}

// Keep is the persistence contract the stack consumes. Implementations
// are free to choose any on-disk layout provided it round-trips through
// the verify predicates.
type Keep interface {
	DumpLocal(LocalData, SafeData) error
	LoadLocalData() (LocalData, SafeData, bool, error)
	VerifyLocalData(LocalData) bool
	ClearLocalData() error

	DumpRemote(RemoteData) error
	LoadAllRemoteData() ([]RemoteData, error)
	VerifyRemoteData(RemoteData) bool
	ClearRemoteData(uid uint32) error
	ClearAllRemoteData() error
}

// VerifyLocalData is the default plain-keep verification predicate: a
// record is valid only if it carries a nonzero uid and a nonempty name.
func VerifyLocalData(d LocalData) bool {
	return d.UID != 0 && d.Name != ""
}

// VerifySafeData is the default safe-keep verification predicate: a
// record is valid only if it carries all four key hex strings.
func VerifySafeData(s SafeData) bool {
	return s.SignHex != "" && s.PriHex != "" && s.VerHex != "" && s.PubHex != ""
}
