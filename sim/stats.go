package sim

import (
	"bufio"
	"fmt"
	"io"
)

// WriteStatistics writes one line per record: prey, predator and grass
// counts separated by tabs.
func WriteStatistics(w io.Writer, records []Statistics) error {
	bw := bufio.NewWriter(w)
	for _, s := range records {
		if _, err := fmt.Fprintf(bw, "%d\t%d\t%d\n", s.Prey, s.Predator, s.Grass); err != nil {
			return err
		}
	}
	return bw.Flush()
}
