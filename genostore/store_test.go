package genostore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s := New(t.TempDir(), "cineca")
	require.NoError(t, s.Init())

	return s
}

func TestAppendAndReadBack(t *testing.T) {
	s := testStore(t)

	h, err := s.AcquireWrite("chr1.vcf", []string{"s1", "s2", "s3"})
	require.NoError(t, err)

	variants := []Variant{
		{ChrName: "1", ChrPos: 100, Ref: "A", Alts: "G"},
		{ChrName: "1", ChrPos: 200, Ref: "C", Alts: "T"},
		{ChrName: "1", ChrPos: 200, Ref: "C", Alts: "G,T"},
	}
	calls := [][]uint8{
		{0, 0, 0, 1, 1, 1},
		{0, 1, MissingCall, MissingCall, 1, 1},
		{0, 0, 0, 0, 0, 1},
	}
	require.NoError(t, h.AppendBatch(variants, calls))
	require.NoError(t, h.Close())

	got, err := s.VariantsAt("1", 200)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].GenoIndex)
	require.Equal(t, 2, got[1].GenoIndex)
	require.True(t, got[1].IsMultiallelic())
	require.Equal(t, []string{"G", "T"}, got[1].AltAlleles())

	rows, err := s.ReadCalls("chr1.vcf", []int{got[0].FileRow})
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 1, MissingCall, MissingCall, 1, 1}, rows[got[0].FileRow])

	ids, err := s.SampleIDs("chr1.vcf")
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2", "s3"}, ids)

	n, err := s.NSamples("chr1.vcf")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestGenoIndexesAreDenseAcrossFiles(t *testing.T) {
	s := testStore(t)

	for fileNr := 0; fileNr < 2; fileNr++ {
		h, err := s.AcquireWrite(fmt.Sprintf("chr%d.vcf", fileNr+1), []string{"s1"})
		require.NoError(t, err)

		variants := []Variant{
			{ChrName: fmt.Sprint(fileNr + 1), ChrPos: 10, Ref: "A", Alts: "T"},
			{ChrName: fmt.Sprint(fileNr + 1), ChrPos: 20, Ref: "A", Alts: "C"},
		}
		calls := [][]uint8{{0, 1}, {1, 1}}
		require.NoError(t, h.AppendBatch(variants, calls))
		require.NoError(t, h.Close())
	}

	// Indexes from the second file continue where the first stopped.
	got, err := s.VariantsAt("2", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 2, got[0].GenoIndex)
	require.Equal(t, 0, got[0].FileRow)
}

func TestConcurrentReservationsAreDisjoint(t *testing.T) {
	s := testStore(t)

	const workers = 8
	const perWorker = 10

	starts := make(chan int, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each goroutine gets its own connection, as separate caching
			// processes would.
			errs <- s.withDB(func(db *sqlx.DB) error {
				start, err := reserveGenoIndexes(db, s.Sampleset, perWorker)
				if err != nil {
					return err
				}
				starts <- start
				return nil
			})
		}()
	}
	wg.Wait()
	close(starts)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[int]bool)
	for start := range starts {
		for i := 0; i < perWorker; i++ {
			require.False(t, seen[start+i], "index %d allocated twice", start+i)
			seen[start+i] = true
		}
	}
	require.Len(t, seen, workers*perWorker)
}

func TestReacquireResumesAppend(t *testing.T) {
	s := testStore(t)

	h, err := s.AcquireWrite("chr1.vcf", []string{"s1"})
	require.NoError(t, err)
	require.NoError(t, h.AppendBatch(
		[]Variant{{ChrName: "1", ChrPos: 1, Ref: "A", Alts: "T"}},
		[][]uint8{{0, 1}},
	))
	require.NoError(t, h.Close())

	// Incremental caching: a later invocation appends more rows to the same
	// group and must resume mid-chunk without clobbering earlier rows.
	h, err = s.AcquireWrite("chr1.vcf", []string{"s1"})
	require.NoError(t, err)
	require.NoError(t, h.AppendBatch(
		[]Variant{{ChrName: "1", ChrPos: 2, Ref: "G", Alts: "C"}},
		[][]uint8{{1, 1}},
	))
	require.NoError(t, h.Close())

	rows, err := s.ReadCalls("chr1.vcf", []int{0, 1})
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 1}, rows[0])
	require.Equal(t, []uint8{1, 1}, rows[1])
}
