// Package genostore caches target-genome variants and hard-called genotypes
// for one sampleset. Variant metadata (position-indexed) lives in a SQLite
// file; genotype calls live in chunked uint8 arrays on disk, one group of
// chunk files per input target file. Writes to a group happen only through a
// WriteHandle, which can only be constructed by acquiring the group's
// advisory file lock.
package genostore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// MissingCall is the sentinel for a missing genotype call. Real calls are
// 0 (ref) or 1 (first alt).
const MissingCall uint8 = 255

// Variant is one cached target-genome variant. GenoIndex is the dense,
// sampleset-wide row number allocated from the store's sequence; FileRow is
// the row within the variant's own target-file group, which is what addresses
// the genotype chunk files.
type Variant struct {
	Sampleset string `db:"sampleset"`
	Filename  string `db:"filename"`
	FileRow   int    `db:"file_row"`
	ChrName   string `db:"chr_name"`
	ChrPos    int    `db:"chr_pos"`
	Ref       string `db:"ref"`
	Alts      string `db:"alts"` // comma-joined; see AltAlleles
	GenoIndex int    `db:"geno_index"`
}

// AltAlleles splits the stored alternate-allele column.
func (v Variant) AltAlleles() []string {
	if v.Alts == "" {
		return nil
	}
	return strings.Split(v.Alts, ",")
}

// IsMultiallelic reports whether the target site has more than one alternate
// allele.
func (v Variant) IsMultiallelic() bool {
	return len(v.AltAlleles()) > 1
}

// Store addresses the cache for one sampleset under a root directory. Store
// methods each open and close their own connection; SQLite writes here follow
// a single-writer-at-a-time discipline and concurrent writer processes must
// not share a sampleset without going through AcquireWrite.
type Store struct {
	Dir       string
	Sampleset string
}

func New(dir, sampleset string) *Store {
	return &Store{Dir: dir, Sampleset: sampleset}
}

func (s *Store) dbPath() string {
	return filepath.Join(s.Dir, s.Sampleset+".sqlite")
}

func (s *Store) groupDir(filename string) string {
	return filepath.Join(s.Dir, s.Sampleset, filepath.Base(filename)+".geno")
}

const schema = `
CREATE TABLE IF NOT EXISTS variants (
	sampleset TEXT NOT NULL,
	filename TEXT NOT NULL,
	file_row INTEGER NOT NULL,
	chr_name TEXT NOT NULL,
	chr_pos INTEGER NOT NULL,
	ref TEXT NOT NULL,
	alts TEXT NOT NULL,
	geno_index INTEGER NOT NULL,
	UNIQUE (sampleset, chr_name, chr_pos, ref, alts, filename),
	UNIQUE (sampleset, geno_index)
);
CREATE INDEX IF NOT EXISTS variants_by_pos ON variants (sampleset, chr_name, chr_pos);

CREATE TABLE IF NOT EXISTS geno_sequence (
	sampleset TEXT PRIMARY KEY,
	next_index INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS target_files (
	sampleset TEXT NOT NULL,
	filename TEXT NOT NULL,
	n_samples INTEGER NOT NULL,
	n_variants INTEGER NOT NULL,
	PRIMARY KEY (sampleset, filename)
);

CREATE TABLE IF NOT EXISTS samples (
	sampleset TEXT NOT NULL,
	filename TEXT NOT NULL,
	sample_idx INTEGER NOT NULL,
	sample_id TEXT NOT NULL,
	PRIMARY KEY (sampleset, filename, sample_idx)
);
`

// Init creates the cache directory and metadata tables.
func (s *Store) Init() error {
	if err := os.MkdirAll(filepath.Join(s.Dir, s.Sampleset), 0o755); err != nil {
		return pfx.Err(err)
	}

	return s.withDB(func(db *sqlx.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// withDB runs fn against a freshly opened connection which is closed before
// returning. Exclusive connect-then-close keeps the single-writer discipline
// visible at every call site.
func (s *Store) withDB(fn func(db *sqlx.DB) error) error {
	// _txlock=immediate takes the write lock at BEGIN, so two writer
	// processes queue on _busy_timeout instead of one failing a deferred
	// upgrade from a stale snapshot.
	db, err := sqlx.Connect("sqlite3", s.dbPath()+"?_busy_timeout=10000&_txlock=immediate")
	if err != nil {
		return pfx.Err(err)
	}
	defer db.Close()

	return fn(db)
}

// reserveGenoIndexes allocates n consecutive geno_index values for this
// sampleset and returns the first. The allocation is transactional, so
// concurrent writer processes receive disjoint ranges.
func reserveGenoIndexes(db *sqlx.DB, sampleset string, n int) (int, error) {
	tx, err := db.Beginx()
	if err != nil {
		return 0, pfx.Err(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO geno_sequence (sampleset, next_index) VALUES (?, 0)`, sampleset); err != nil {
		return 0, pfx.Err(err)
	}

	var start int
	if err := tx.Get(&start, `SELECT next_index FROM geno_sequence WHERE sampleset = ?`, sampleset); err != nil {
		return 0, pfx.Err(err)
	}

	if _, err := tx.Exec(`UPDATE geno_sequence SET next_index = ? WHERE sampleset = ?`, start+n, sampleset); err != nil {
		return 0, pfx.Err(err)
	}

	return start, pfx.Err(tx.Commit())
}

// VariantsAt returns all cached variants at one chromosomal position, in
// geno_index order.
func (s *Store) VariantsAt(chrName string, chrPos int) ([]Variant, error) {
	var out []Variant
	err := s.withDB(func(db *sqlx.DB) error {
		return db.Select(&out,
			`SELECT * FROM variants WHERE sampleset = ? AND chr_name = ? AND chr_pos = ? ORDER BY geno_index`,
			s.Sampleset, chrName, chrPos)
	})

	return out, pfx.Err(err)
}

// Filenames lists the target files cached for this sampleset.
func (s *Store) Filenames() ([]string, error) {
	var out []string
	err := s.withDB(func(db *sqlx.DB) error {
		return db.Select(&out,
			`SELECT filename FROM target_files WHERE sampleset = ? ORDER BY filename`, s.Sampleset)
	})

	return out, pfx.Err(err)
}

// SampleIDs returns the sample identifiers for one target file in column
// order.
func (s *Store) SampleIDs(filename string) ([]string, error) {
	var out []string
	err := s.withDB(func(db *sqlx.DB) error {
		return db.Select(&out,
			`SELECT sample_id FROM samples WHERE sampleset = ? AND filename = ? ORDER BY sample_idx`,
			s.Sampleset, filename)
	})

	return out, pfx.Err(err)
}

// NSamples returns the genotype column count for one target file.
func (s *Store) NSamples(filename string) (int, error) {
	var n int
	err := s.withDB(func(db *sqlx.DB) error {
		return db.Get(&n,
			`SELECT n_samples FROM target_files WHERE sampleset = ? AND filename = ?`,
			s.Sampleset, filename)
	})
	if err != nil {
		return 0, pfx.Err(fmt.Errorf("%s: %w", filename, err))
	}

	return n, nil
}
