package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// Output writes one file per category plus the merged catalog into a
// directory. It is safe for concurrent use.
type Output struct {
	dir    string
	format string

	mu    sync.Mutex
	stems map[string]int
	files []string
}

// NewOutput prepares an output directory. Nothing is created until the
// first write.
func NewOutput(dir, format string) *Output {
	return &Output{dir: dir, format: format, stems: make(map[string]int)}
}

// WriteCategory flushes one category's products. Repeated names (possible
// in subcategory mode) get a numeric suffix instead of overwriting.
func (o *Output) WriteCategory(name string, products []*models.Product) ([]string, error) {
	stem := parser.FileStem(name)
	if stem == "" {
		stem = "category"
	}

	o.mu.Lock()
	o.stems[stem]++
	if n := o.stems[stem]; n > 1 {
		stem = stem + "_" + strconv.Itoa(n)
	}
	o.mu.Unlock()

	return o.write(stem, products)
}

// WriteMerged writes the deduplicated catalog under name.
func (o *Output) WriteMerged(name string, products []*models.Product) ([]string, error) {
	return o.write(name, products)
}

// Files lists every file written so far.
func (o *Output) Files() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.files))
	copy(out, o.files)
	return out
}

func (o *Output) write(stem string, products []*models.Product) (paths []string, err error) {
	w, paths, err := NewWriter(o.format, filepath.Join(o.dir, stem))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", stem, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", stem, cerr))
		}
		if err == nil {
			err = w.Validate()
		}
		if err == nil {
			o.mu.Lock()
			o.files = append(o.files, paths...)
			o.mu.Unlock()
		}
	}()

	if err := w.Write(products); err != nil {
		return paths, fmt.Errorf("write %s: %w", stem, err)
	}
	return paths, nil
}
