package keep

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileKeep is the default Keep implementation: one YAML file per local
// estate (local.yaml) and one per remote (remote.<uid>.yaml) under a
// configured directory, grounded on the original's directory-per-stack
// dumpLocal/dumpRemote layout (original_source/raet/stacking.py).
type FileKeep struct {
	Dir string
}

// NewFileKeep returns a FileKeep rooted at dir, creating it if needed.
func NewFileKeep(dir string) (*FileKeep, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keep dir: %w", err)
	}

	return &FileKeep{Dir: dir}, nil
}

var _ Keep = (*FileKeep)(nil)

type localFile struct {
	Local LocalData `yaml:"local"`
	Safe  SafeData  `yaml:"safe"`
}

func (k *FileKeep) localPath() string {
	return filepath.Join(k.Dir, "local.yaml")
}

func (k *FileKeep) remotePath(uid uint32) string {
	return filepath.Join(k.Dir, fmt.Sprintf("remote.%d.yaml", uid))
}

// DumpLocal writes the local estate's plain and safe halves.
func (k *FileKeep) DumpLocal(local LocalData, safe SafeData) error {
	out, err := yaml.Marshal(localFile{Local: local, Safe: safe})
	if err != nil {
		return fmt.Errorf("marshal local keep: %w", err)
	}

	if err := os.WriteFile(k.localPath(), out, 0o600); err != nil {
		return fmt.Errorf("write local keep: %w", err)
	}

	return nil
}

// LoadLocalData reads the local estate's plain and safe halves, reporting
// false if no file exists yet.
func (k *FileKeep) LoadLocalData() (LocalData, SafeData, bool, error) {
	raw, err := os.ReadFile(k.localPath())
	if os.IsNotExist(err) {
		return LocalData{}, SafeData{}, false, nil
	}

	if err != nil {
		return LocalData{}, SafeData{}, false, fmt.Errorf("read local keep: %w", err)
	}

	var f localFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return LocalData{}, SafeData{}, false, fmt.Errorf("unmarshal local keep: %w", err)
	}

	return f.Local, f.Safe, true, nil
}

// VerifyLocalData delegates to the package-level predicate.
func (k *FileKeep) VerifyLocalData(d LocalData) bool { return VerifyLocalData(d) }

// ClearLocalData removes the local keep file.
func (k *FileKeep) ClearLocalData() error {
	if err := os.Remove(k.localPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear local keep: %w", err)
	}

	return nil
}

// DumpRemote writes one remote's plain and safe halves.
func (k *FileKeep) DumpRemote(d RemoteData) error {
	out, err := yaml.Marshal(localFile{Local: d.Local, Safe: d.Safe})
	if err != nil {
		return fmt.Errorf("marshal remote keep: %w", err)
	}

	if err := os.WriteFile(k.remotePath(d.Local.UID), out, 0o600); err != nil {
		return fmt.Errorf("write remote keep: %w", err)
	}

	return nil
}

// LoadAllRemoteData reads every remote.*.yaml file, skipping (not
// returning an error for) any that fails to parse — a malformed remote
// file is treated as "no record," matching the original's tolerant
// loadRemotes behavior.
func (k *FileKeep) LoadAllRemoteData() ([]RemoteData, error) {
	entries, err := os.ReadDir(k.Dir)
	if err != nil {
		return nil, fmt.Errorf("read keep dir: %w", err)
	}

	var names []string

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "remote.") && strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	var out []RemoteData

	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(k.Dir, name))
		if err != nil {
			continue
		}

		var f localFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			continue
		}

		out = append(out, RemoteData{Local: f.Local, Safe: f.Safe})
	}

	return out, nil
}

// VerifyRemoteData reports whether both halves of d verify. Unlike the
// local estate, a remote's safe half never carries private key material
// (SignHex/PriHex), only the public halves learned from a completed
// Allow handshake — so only VerHex/PubHex are required here, not the full
// VerifySafeData predicate the local keep uses.
func (k *FileKeep) VerifyRemoteData(d RemoteData) bool {
	return VerifyLocalData(d.Local) && d.Safe.VerHex != "" && d.Safe.PubHex != ""
}

// ClearRemoteData removes a single remote's keep file.
func (k *FileKeep) ClearRemoteData(uid uint32) error {
	if err := os.Remove(k.remotePath(uid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear remote keep %d: %w", uid, err)
	}

	return nil
}

// ClearAllRemoteData removes every remote keep file.
func (k *FileKeep) ClearAllRemoteData() error {
	all, err := k.LoadAllRemoteData()
	if err != nil {
		return err
	}

	for _, d := range all {
		if err := k.ClearRemoteData(d.Local.UID); err != nil {
			return err
		}
	}

	return nil
}
