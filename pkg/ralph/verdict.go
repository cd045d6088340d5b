package ralph

import (
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"ticketflow/pkg/protocol"
)

// verdictFiles are the artifacts an attempt is judged on.
var verdictFiles = []string{protocol.CloseSummaryFile, protocol.ReviewFile}

type fileStamp struct {
	modTime time.Time
	sum     [32]byte
}

// verdictStamps records the verdict artifacts currently in dir.
func verdictStamps(dir string) map[string]fileStamp {
	stamps := make(map[string]fileStamp, len(verdictFiles))
	for _, name := range verdictFiles {
		if st, ok := stampFile(filepath.Join(dir, name)); ok {
			stamps[name] = st
		}
	}
	return stamps
}

func stampFile(path string) (fileStamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is inside the ticket artifact dir
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{modTime: info.ModTime(), sum: blake3.Sum256(data)}, true
}

// freshVerdict reports whether any verdict artifact in dir was created or
// rewritten since before was taken.
func freshVerdict(dir string, before map[string]fileStamp) bool {
	for _, name := range verdictFiles {
		now, ok := stampFile(filepath.Join(dir, name))
		if !ok {
			continue
		}
		prev, existed := before[name]
		if !existed || !prev.modTime.Equal(now.modTime) || prev.sum != now.sum {
			return true
		}
	}
	return false
}
