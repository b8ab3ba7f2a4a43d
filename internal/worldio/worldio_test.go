package worldio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/setl/internal/testutil/testlog"
)

func TestReadWorldPadsBorder(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "world.txt")
	if err := os.WriteFile(path, []byte("3\nXOO\nOXO\r\nOOX\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	w, err := ReadWorld(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if w.Rows() != 5 || w.Cols() != 5 {
		t.Fatalf("shape %dx%d", w.Rows(), w.Cols())
	}
	if !w.IsAlive(1, 1) || !w.IsAlive(2, 2) || !w.IsAlive(3, 3) || w.LiveCount() != 3 {
		t.Fatalf("unexpected world:\n%s", w)
	}
}

func TestDecodePatternHasNoBorder(t *testing.T) {
	testlog.Start(t)
	p, err := DecodePattern(strings.NewReader("2\nXO\nOX\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Rows() != 2 || !p.IsAlive(0, 0) || !p.IsAlive(1, 1) {
		t.Fatalf("unexpected pattern:\n%s", p)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"empty":     "",
		"bad size":  "x\n",
		"zero size": "0\n",
		"short row": "2\nXO\nO\n",
		"missing":   "3\nXOO\n",
		"bad cell":  "2\nXO\nO.\n",
	}
	for name, body := range cases {
		if _, err := DecodeWorld(strings.NewReader(body)); !errors.Is(err, ErrMalformedWorld) {
			t.Fatalf("%s: expected ErrMalformedWorld, got %v", name, err)
		}
	}
}

func TestReadWorldMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := ReadWorld(filepath.Join(t.TempDir(), "absent.txt"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}
