package pgscalc

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectDataType(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("chr_name\tchr_position\n"))
	gz.Close()

	dt, err := DetectDataType(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if dt != DataTypeGzip {
		t.Errorf("expected gzip, got %v", dt)
	}

	dt, err = DetectDataType(bytes.NewReader([]byte("chr_name\tchr_position\n")))
	if err != nil {
		t.Fatal(err)
	}
	if dt != DataTypeNoCompression {
		t.Errorf("expected no compression, got %v", dt)
	}
}

func TestMaybeDecompressReadCloserFromFileGzip(t *testing.T) {
	content := "chr_name\tchr_position\teffect_allele\n1\t100\tA\n"

	path := filepath.Join(t.TempDir(), "score.txt.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	in, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	rc, err := MaybeDecompressReadCloserFromFile(in)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Errorf("expected %q, got %q", content, string(got))
	}
}

func TestMaybeDecompressReadCloserFromFilePlain(t *testing.T) {
	content := "sample_id\tPC1\tPC2\ns1\t0.5\t-0.5\n"

	path := filepath.Join(t.TempDir(), "coords.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	in, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	rc, err := MaybeDecompressReadCloserFromFile(in)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Errorf("expected %q, got %q", content, string(got))
	}
}
