package genostore

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/carbocation/bgen"
	"github.com/carbocation/pfx"
	"github.com/carbocation/vcfgo"
	log "github.com/sirupsen/logrus"
)

const ingestBatchSize = 512

// CacheVCF appends every variant of a VCF (optionally gzipped) to the store
// under the file's base name. Genotypes are taken from the GT field; any
// sample with a partially missing call is stored fully missing for that
// variant.
func (s *Store) CacheVCF(path string) error {
	fraw, err := os.Open(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer fraw.Close()

	var f io.Reader
	f, err = gzip.NewReader(fraw)
	if err != nil {
		fraw.Seek(0, 0)
		f = fraw
	}

	rdr, err := vcfgo.NewReader(bufio.NewReaderSize(f, 1<<16), false)
	if err != nil {
		return pfx.Err(err)
	}

	filename := filepath.Base(path)
	sampleIDs := rdr.Header.SampleNames

	h, err := s.AcquireWrite(filename, sampleIDs)
	if err != nil {
		return err
	}
	defer h.Close()

	variants := make([]Variant, 0, ingestBatchSize)
	calls := make([][]uint8, 0, ingestBatchSize)
	nRead := 0

	for {
		v := rdr.Read()
		if v == nil {
			break
		}
		nRead++

		row := make([]uint8, len(sampleIDs)*2)
		for i, sample := range v.Samples {
			a, b := MissingCall, MissingCall
			if sample != nil && len(sample.GT) == 2 && sample.GT[0] >= 0 && sample.GT[1] >= 0 {
				a, b = uint8(sample.GT[0]), uint8(sample.GT[1])
			}
			row[2*i], row[2*i+1] = a, b
		}

		variants = append(variants, Variant{
			ChrName: strings.TrimPrefix(v.Chromosome, "chr"),
			ChrPos:  int(v.Pos),
			Ref:     v.Ref(),
			Alts:    strings.Join(v.Alt(), ","),
		})
		calls = append(calls, row)

		if len(variants) == ingestBatchSize {
			if err := h.AppendBatch(variants, calls); err != nil {
				return err
			}
			variants, calls = variants[:0], calls[:0]
		}
	}

	if err := rdr.Error(); err != nil {
		log.Warnf("%s: non-fatal VCF parse issues: %v", filename, err)
	}

	if len(variants) > 0 {
		if err := h.AppendBatch(variants, calls); err != nil {
			return err
		}
	}

	log.Printf("Cached %d variants from %s into sampleset %s", nRead, filename, s.Sampleset)

	return nil
}

// CacheBGEN appends every variant of a BGEN file to the store under the
// file's base name, hard-calling genotypes from the probability buckets.
// sampleIDs supplies the sample column names, since BGEN files frequently
// omit the sample identifier block.
func (s *Store) CacheBGEN(path string, sampleIDs []string) error {
	b, err := bgen.Open(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer b.Close()

	filename := filepath.Base(path)

	h, err := s.AcquireWrite(filename, sampleIDs)
	if err != nil {
		return err
	}
	defer h.Close()

	vr := b.NewVariantReader()

	variants := make([]Variant, 0, ingestBatchSize)
	calls := make([][]uint8, 0, ingestBatchSize)
	nRead := 0

	for {
		variant := vr.Read()
		if variant == nil {
			break
		}
		if err := vr.Error(); err != nil {
			return pfx.Err(err)
		}
		nRead++

		if len(variant.SampleProbabilities) != len(sampleIDs) {
			return pfx.Err(fmt.Errorf("%s: variant %s:%d has %d samples, expected %d",
				filename, variant.Chromosome, variant.Position, len(variant.SampleProbabilities), len(sampleIDs)))
		}

		row := make([]uint8, len(sampleIDs)*2)
		for i, sp := range variant.SampleProbabilities {
			a, bb := HardCall(sp.Probabilities, sp.Missing || sp.Ploidy != 2)
			row[2*i], row[2*i+1] = a, bb
		}

		alleles := make([]string, 0, len(variant.Alleles))
		for _, a := range variant.Alleles {
			alleles = append(alleles, string(a))
		}
		if len(alleles) == 0 {
			continue
		}

		variants = append(variants, Variant{
			// BGENIX-style sources store chromosome 1 as "01"
			ChrName: strings.TrimLeft(variant.Chromosome, "0"),
			ChrPos:  int(variant.Position),
			Ref:     alleles[0],
			Alts:    strings.Join(alleles[1:], ","),
		})
		calls = append(calls, row)

		if len(variants) == ingestBatchSize {
			if err := h.AppendBatch(variants, calls); err != nil {
				return err
			}
			variants, calls = variants[:0], calls[:0]
		}
	}

	if len(variants) > 0 {
		if err := h.AppendBatch(variants, calls); err != nil {
			return err
		}
	}

	log.Printf("Cached %d variants from %s into sampleset %s", nRead, filename, s.Sampleset)

	return nil
}
