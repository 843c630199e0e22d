package stats

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// WriteInfo writes the human readable run summary: the run header, per
// state tables and the complete coverage map as hex, 32 bytes per line.
func WriteInfo(w io.Writer, cliOptions string, snap Snapshot, coverageMap []byte) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "cli_options: %s\n", cliOptions)
	fmt.Fprintf(bw, "run_id: %s\n", snap.RunID)
	fmt.Fprintf(bw, "complete_coverage: %.0f%% (%d/%d)\n", snap.Coverage, snap.Covered, snap.MapSize)

	execs := make([]string, 0, len(snap.States))
	cycles := make([]string, 0, len(snap.States))
	states := make([]string, 0, len(snap.States))
	for _, st := range snap.States {
		execs = append(execs, fmt.Sprintf("(%d, %d)", st.Ref, st.Execs))
		cycles = append(cycles, fmt.Sprintf("(%d, %d)", st.Ref, st.Cycles))
		states = append(states, fmt.Sprintf("(%d, %q, %d, %d)", st.Ref, st.ID, st.OutDegree, st.CorpusSize))
	}
	fmt.Fprintf(bw, "executions_per_state (id, #exec): [%s]\n", strings.Join(execs, ", "))
	fmt.Fprintf(bw, "total_executions: %d\n", snap.Executions)
	fmt.Fprintf(bw, "cycles_per_state (id, #cycles): [%s]\n", strings.Join(cycles, ", "))
	fmt.Fprintf(bw, "states (id, name, out_degree, corpus): [%s]\n", strings.Join(states, ", "))
	fmt.Fprintf(bw, "timeouts: %d\n", snap.Timeouts)
	fmt.Fprintf(bw, "crashes: %d\n", snap.Crashes)

	fmt.Fprintln(bw, "Coverage map:")
	for off := 0; off < len(coverageMap); off += 32 {
		end := min(off+32, len(coverageMap))
		fmt.Fprintln(bw, hex.EncodeToString(coverageMap[off:end]))
	}
	return bw.Flush()
}

// WriteInfoFile writes the summary to path, replacing it.
func WriteInfoFile(path, cliOptions string, snap Snapshot, coverageMap []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteInfo(f, cliOptions, snap, coverageMap); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
