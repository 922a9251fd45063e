package genostore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/carbocation/pfx"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sys/unix"
)

// WriteHandle is the only path to genotype-array mutation for one
// (sampleset, target file) group. It can only be constructed by
// Store.AcquireWrite, which blocks until the group's advisory lock is held,
// so holding a *WriteHandle is proof of exclusive write access.
//
// The lock is a blocking flock with no timeout. A writer that dies while
// holding it releases it with its file descriptor; a machine crash can leave
// the lock file itself behind, which is harmless because flock state does not
// persist.
type WriteHandle struct {
	store    *Store
	filename string
	lockFile *os.File
	owner    string

	nSamples int
	nextRow  int
	pending  []uint8 // partial trailing chunk, row-major (row, sample, ploidy)
}

// AcquireWrite blocks until the advisory lock for the given target file's
// genotype group is held, then returns the handle that permits appends.
// sampleIDs fixes the sample column order for the group and must be the same
// on every acquisition for the same file.
func (s *Store) AcquireWrite(filename string, sampleIDs []string) (*WriteHandle, error) {
	if err := os.MkdirAll(s.groupDir(filename), 0o755); err != nil {
		return nil, pfx.Err(err)
	}

	lockPath := filepath.Join(s.Dir, s.Sampleset, filepath.Base(filename)+".lock")
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, pfx.Err(err)
	}

	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		lf.Close()
		return nil, pfx.Err(err)
	}

	h := &WriteHandle{
		store:    s,
		filename: filename,
		lockFile: lf,
		owner:    uuid.New().String(),
		nSamples: len(sampleIDs),
	}

	// The owner token is purely diagnostic: it tells an operator which
	// acquisition last touched the lock file.
	lf.Truncate(0)
	fmt.Fprintf(lf, "%s\n", h.owner)

	if err := h.registerFile(sampleIDs); err != nil {
		h.unlock()
		return nil, err
	}

	return h, nil
}

// registerFile records the target file and its sample columns, and restores
// the append position when the group already holds rows (incremental
// per-chromosome caching re-acquires the same group).
func (h *WriteHandle) registerFile(sampleIDs []string) error {
	return h.store.withDB(func(db *sqlx.DB) error {
		var nVariants int
		err := db.Get(&nVariants,
			`SELECT n_variants FROM target_files WHERE sampleset = ? AND filename = ?`,
			h.store.Sampleset, h.filename)
		if err == nil {
			h.nextRow = nVariants
			return nil
		}

		if _, err := db.Exec(
			`INSERT INTO target_files (sampleset, filename, n_samples, n_variants) VALUES (?, ?, ?, 0)`,
			h.store.Sampleset, h.filename, h.nSamples); err != nil {
			return pfx.Err(err)
		}
		for i, id := range sampleIDs {
			if _, err := db.Exec(
				`INSERT INTO samples (sampleset, filename, sample_idx, sample_id) VALUES (?, ?, ?, ?)`,
				h.store.Sampleset, h.filename, i, id); err != nil {
				return pfx.Err(err)
			}
		}

		return nil
	})
}

func (h *WriteHandle) unlock() {
	unix.Flock(int(h.lockFile.Fd()), unix.LOCK_UN)
	h.lockFile.Close()
}

// Close flushes any partial trailing chunk, records the final row count, and
// releases the lock. The handle must not be used afterward.
func (h *WriteHandle) Close() error {
	defer h.unlock()

	if err := h.flushPending(); err != nil {
		return err
	}

	return h.store.withDB(func(db *sqlx.DB) error {
		_, err := db.Exec(
			`UPDATE target_files SET n_variants = ? WHERE sampleset = ? AND filename = ?`,
			h.nextRow, h.store.Sampleset, h.filename)
		return pfx.Err(err)
	})
}
