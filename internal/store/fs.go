package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// NamespaceMeta contains namespace metadata.
type NamespaceMeta struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// FSRepo is a filesystem-backed Repo. Records are plain files; the atomic
// conditional create maps onto O_CREATE|O_EXCL, which is atomic on POSIX
// filesystems and on NFS with modern servers. Multiple processes may share
// one data directory.
//
// Directory structure:
//
//	{dataDir}/
//	  namespaces/
//	    {ns}/
//	      _meta.json        # namespace metadata
//	      records/
//	        {name}          # record content
//	      _history/
//	        {name}/
//	          {unix-nanos}  # archived content from overwrites
type FSRepo struct {
	dataDir   string
	namespace string
	mu        sync.Mutex
}

// NewFSRepo creates a filesystem-backed repo rooted at dataDir, scoped to
// the given namespace.
func NewFSRepo(dataDir, namespace string) (*FSRepo, error) {
	if err := validateName(namespace); err != nil {
		return nil, fmt.Errorf("invalid namespace: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "namespaces"), 0o755); err != nil {
		return nil, fmt.Errorf("create namespaces dir: %w", err)
	}
	return &FSRepo{dataDir: dataDir, namespace: namespace}, nil
}

// Namespace returns the namespace this repo is scoped to.
func (r *FSRepo) Namespace() string {
	return r.namespace
}

func (r *FSRepo) namespacePath() string {
	return filepath.Join(r.dataDir, "namespaces", r.namespace)
}

func (r *FSRepo) recordsPath() string {
	return filepath.Join(r.namespacePath(), "records")
}

func (r *FSRepo) recordPath(name string) string {
	return filepath.Join(r.recordsPath(), name)
}

func (r *FSRepo) historyPath(name string) string {
	return filepath.Join(r.namespacePath(), "_history", name)
}

// syncedWriteFile writes data and fsyncs so a claim survives a crash of the
// machine hosting the data directory.
func syncedWriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// EnsureNamespace creates the namespace directory structure if absent.
func (r *FSRepo) EnsureNamespace(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.recordsPath(), 0o755); err != nil {
		return fmt.Errorf("create namespace: %w", err)
	}

	metaPath := filepath.Join(r.namespacePath(), "_meta.json")
	if _, err := os.Stat(metaPath); err == nil {
		return nil
	}
	meta := NamespaceMeta{Name: r.namespace, CreatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal namespace meta: %w", err)
	}
	if err := syncedWriteFile(metaPath, data, 0o644); err != nil {
		return fmt.Errorf("write namespace meta: %w", err)
	}
	return nil
}

// ListRecordNames returns the names of all records in the namespace.
// The order is whatever the filesystem reports.
func (r *FSRepo) ListRecordNames(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.recordsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, r.namespace)
		}
		return nil, fmt.Errorf("list records: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// CreateRecord writes a record. The conditional create relies on
// O_CREATE|O_EXCL; a lost race surfaces as (false, nil).
func (r *FSRepo) CreateRecord(ctx context.Context, name string, content []byte, overwrite bool) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.recordPath(name)
	if overwrite {
		if err := r.archiveRecord(name); err != nil {
			return false, err
		}
		if err := syncedWriteFile(path, content, 0o644); err != nil {
			return false, fmt.Errorf("write record %s: %w", name, err)
		}
		return true, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		if os.IsNotExist(err) {
			// Parent directory missing: namespace was never created.
			return false, fmt.Errorf("%w: %s", ErrNamespaceNotFound, r.namespace)
		}
		return false, fmt.Errorf("create record %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(content); err != nil {
		return false, fmt.Errorf("write record %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return false, fmt.Errorf("sync record %s: %w", name, err)
	}
	return true, nil
}

// archiveRecord moves the current content of a record, if any, into the
// history directory. Must be called with r.mu held.
func (r *FSRepo) archiveRecord(name string) error {
	content, err := os.ReadFile(r.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read record %s: %w", name, err)
	}

	dir := r.historyPath(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := syncedWriteFile(filepath.Join(dir, stamp), content, 0o644); err != nil {
		return fmt.Errorf("archive record %s: %w", name, err)
	}
	return nil
}

// DeleteRecord removes a record, and its archived history when
// includeDerived is set. Deleting an absent record is a no-op.
func (r *FSRepo) DeleteRecord(ctx context.Context, name string, includeDerived bool) error {
	if err := validateName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.recordPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete record %s: %w", name, err)
	}
	if includeDerived {
		if err := os.RemoveAll(r.historyPath(name)); err != nil {
			return fmt.Errorf("delete record history %s: %w", name, err)
		}
	}
	return nil
}

// ReadRecord returns the content of a record. The allocation protocol never
// reads records back; this exists for operator tooling and the HTTP server.
func (r *FSRepo) ReadRecord(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, name)
		}
		return nil, fmt.Errorf("read record %s: %w", name, err)
	}
	return data, nil
}
