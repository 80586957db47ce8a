package subset

import (
	"fmt"
	"sort"
	"time"
)

// FilterAvailable keeps the dates inside [start, end], compared by calendar day; a zero bound
// is open. The result is sorted ascending with duplicate calendar dates removed, first
// occurrence kept.
func FilterAvailable(dates []AvailableDate, start, end time.Time) []AvailableDate {
	lo, hi := civilDate(start), civilDate(end)

	seen := make(map[time.Time]struct{}, len(dates))
	out := make([]AvailableDate, 0, len(dates))
	for _, d := range dates {
		day := civilDate(d.Calendar)
		if (!start.IsZero() && day.Before(lo)) || (!end.IsZero() && day.After(hi)) {
			continue
		}
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, AvailableDate{Calendar: day, Native: d.Native})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Calendar.Before(out[j].Calendar)
	})
	return out
}

// ChunkDates splits an ascending, deduplicated date list into consecutive runs of at most size
// dates. Each chunk starts at the first date of its run and ends at the last; only the final
// chunk may be shorter than size. An empty list yields no chunks.
func ChunkDates(dates []AvailableDate, size int) ([]Chunk, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, size)
	}

	chunks := make([]Chunk, 0, (len(dates)+size-1)/size)
	for i := 0; i < len(dates); i += size {
		j := i + size
		if j > len(dates) {
			j = len(dates)
		}
		chunks = append(chunks, Chunk{
			Start: dates[i],
			End:   dates[j-1],
			Count: j - i,
		})
	}
	return chunks, nil
}
