// Package report renders a finished search on the coordinator's stdout.
package report

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/setl/internal/match"
)

// Writer is an aggregate.Sink that prints the run report line by line.
type Writer struct {
	out     *bufio.Writer
	total   uint64
	emitted uint64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{out: bufio.NewWriter(w)}
}

// Header prints the run description written before the search starts.
func (w *Writer) Header(gridSize, generations, patternSize int) error {
	fmt.Fprintf(w.out, "World Size = %d\n", gridSize)
	fmt.Fprintf(w.out, "Iterations = %d\n", generations)
	fmt.Fprintf(w.out, "Pattern size = %d\n", patternSize)
	return w.out.Flush()
}

func (w *Writer) Total(n uint64) error {
	w.total = n
	_, err := fmt.Fprintf(w.out, "List size = %d\n", n)
	return err
}

func (w *Writer) Emit(rec match.Record) error {
	w.emitted++
	_, err := fmt.Fprintln(w.out, rec.String())
	return err
}

// Finish prints the elapsed time and flushes.
func (w *Writer) Finish(elapsed time.Duration) error {
	if w.emitted != w.total {
		return fmt.Errorf("report: %d records written, %d announced", w.emitted, w.total)
	}
	fmt.Fprintf(w.out, "Parallel SETL took %.2f seconds\n", elapsed.Seconds())
	return w.out.Flush()
}
