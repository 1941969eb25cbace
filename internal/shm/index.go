package shm

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// WriteIndex writes one line per registered object so that external tools
// can find segments by key.
func (r *Registry) WriteIndex(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, o := range r.Objects() {
		if _, err := fmt.Fprintf(bw, "%-24s %-8s %10d %8d\n", o.Name, o.Kind, o.Key, o.Size); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteIndexFile writes the index to path.
func (r *Registry) WriteIndexFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteIndex(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
