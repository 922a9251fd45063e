package genostore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/carbocation/pfx"
	"github.com/jmoiron/sqlx"
	"github.com/kshedden/gonpy"
)

// ChunkRows is the number of variant rows per genotype chunk file. Chunks
// belong to exactly one (sampleset, target file) group, so two writer
// processes holding locks on different groups never share a chunk boundary.
const ChunkRows = 4096

func chunkPath(groupDir string, chunkIdx int) string {
	return filepath.Join(groupDir, fmt.Sprintf("chunk_%06d.npy", chunkIdx))
}

// writeChunk persists one chunk atomically: the npy file is written to a
// temporary name and renamed into place, so readers never observe a torn
// chunk.
func writeChunk(groupDir string, chunkIdx, nRows, nSamples int, data []uint8) error {
	if len(data) != nRows*nSamples*2 {
		return pfx.Err(fmt.Errorf("chunk %d: have %d values, want %d", chunkIdx, len(data), nRows*nSamples*2))
	}

	tmp, err := os.CreateTemp(groupDir, "chunk-*.npy.tmp")
	if err != nil {
		return pfx.Err(err)
	}
	defer os.Remove(tmp.Name())

	npw, err := gonpy.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return pfx.Err(err)
	}
	npw.Shape = []int{nRows, nSamples, 2}
	// WriteUint8 closes the underlying writer when it finishes, so tmp must
	// not be closed again here.
	if err := npw.WriteUint8(data); err != nil {
		tmp.Close()
		return pfx.Err(err)
	}

	return pfx.Err(os.Rename(tmp.Name(), chunkPath(groupDir, chunkIdx)))
}

func readChunk(groupDir string, chunkIdx int) (data []uint8, nRows, nSamples int, err error) {
	f, err := os.Open(chunkPath(groupDir, chunkIdx))
	if err != nil {
		return nil, 0, 0, pfx.Err(err)
	}
	defer f.Close()

	npr, err := gonpy.NewReader(f)
	if err != nil {
		return nil, 0, 0, pfx.Err(err)
	}
	if len(npr.Shape) != 3 || npr.Shape[2] != 2 {
		return nil, 0, 0, pfx.Err(fmt.Errorf("chunk %d: unexpected shape %v", chunkIdx, npr.Shape))
	}

	data, err = npr.GetUint8()
	if err != nil {
		return nil, 0, 0, pfx.Err(err)
	}

	return data, npr.Shape[0], npr.Shape[1], nil
}

// ReadCalls returns the genotype calls for the requested rows of one target
// file's group. Each returned row is flattened (sample, ploidy) with
// MissingCall sentinels preserved. Rows may be requested in any order;
// chunks are read once each.
func (s *Store) ReadCalls(filename string, fileRows []int) (map[int][]uint8, error) {
	groupDir := s.groupDir(filename)

	byChunk := make(map[int][]int)
	for _, row := range fileRows {
		byChunk[row/ChunkRows] = append(byChunk[row/ChunkRows], row)
	}

	out := make(map[int][]uint8, len(fileRows))
	for chunkIdx, rows := range byChunk {
		data, nRows, nSamples, err := readChunk(groupDir, chunkIdx)
		if err != nil {
			return nil, err
		}

		rowWidth := nSamples * 2
		for _, row := range rows {
			local := row - chunkIdx*ChunkRows
			if local < 0 || local >= nRows {
				return nil, pfx.Err(fmt.Errorf("row %d out of range for chunk %d (%d rows)", row, chunkIdx, nRows))
			}
			calls := make([]uint8, rowWidth)
			copy(calls, data[local*rowWidth:(local+1)*rowWidth])
			out[row] = calls
		}
	}

	return out, nil
}

// AppendBatch adds variants and their genotype calls to the handle's group.
// calls[i] is the flattened (sample, ploidy) row for variants[i] and must
// have nSamples*2 entries with MissingCall marking absent calls. Variant
// geno_index values are allocated here from the sampleset sequence; callers
// must not set them.
func (h *WriteHandle) AppendBatch(variants []Variant, calls [][]uint8) error {
	if len(variants) != len(calls) {
		return pfx.Err(fmt.Errorf("have %d variants but %d call rows", len(variants), len(calls)))
	}

	rowWidth := h.nSamples * 2
	for i, c := range calls {
		if len(c) != rowWidth {
			return pfx.Err(fmt.Errorf("call row %d has %d values, want %d", i, len(c), rowWidth))
		}
	}

	err := h.store.withDB(func(db *sqlx.DB) error {
		start, err := reserveGenoIndexes(db, h.store.Sampleset, len(variants))
		if err != nil {
			return err
		}

		tx, err := db.Beginx()
		if err != nil {
			return pfx.Err(err)
		}
		defer tx.Rollback()

		for i := range variants {
			v := &variants[i]
			v.Sampleset = h.store.Sampleset
			v.Filename = h.filename
			v.FileRow = h.nextRow + i
			v.GenoIndex = start + i

			if _, err := tx.NamedExec(
				`INSERT INTO variants (sampleset, filename, file_row, chr_name, chr_pos, ref, alts, geno_index)
				 VALUES (:sampleset, :filename, :file_row, :chr_name, :chr_pos, :ref, :alts, :geno_index)`, v); err != nil {
				return pfx.Err(err)
			}
		}

		return pfx.Err(tx.Commit())
	})
	if err != nil {
		return err
	}

	for _, c := range calls {
		h.pending = append(h.pending, c...)
		h.nextRow++
		// Flush exactly at chunk boundaries so the buffer never spans two
		// chunks, including when a re-opened group resumed mid-chunk.
		if h.nextRow%ChunkRows == 0 {
			if err := h.flushPending(); err != nil {
				return err
			}
		}
	}

	return nil
}

func (h *WriteHandle) pendingRows() int {
	return len(h.pending) / (h.nSamples * 2)
}

// flushPending writes the buffered rows as the current trailing chunk. A
// re-opened group resumes mid-chunk by reloading the existing trailing chunk
// into the buffer.
func (h *WriteHandle) flushPending() error {
	n := h.pendingRows()
	if n == 0 {
		return nil
	}

	firstBuffered := h.nextRow - n
	chunkIdx := firstBuffered / ChunkRows

	// Rows already persisted in this chunk from a previous acquisition must
	// be kept in front of the buffered rows.
	if firstBuffered%ChunkRows != 0 {
		prior, _, _, err := readChunk(h.store.groupDir(h.filename), chunkIdx)
		if err != nil {
			return err
		}
		keep := (firstBuffered % ChunkRows) * h.nSamples * 2
		h.pending = append(prior[:keep:keep], h.pending...)
		n = h.pendingRows()
		firstBuffered = chunkIdx * ChunkRows
	}

	if err := writeChunk(h.store.groupDir(h.filename), chunkIdx, n, h.nSamples, h.pending); err != nil {
		return err
	}

	if firstBuffered+n == (chunkIdx+1)*ChunkRows {
		// Chunk is full; start a fresh buffer.
		h.pending = h.pending[:0]
	}

	return nil
}
