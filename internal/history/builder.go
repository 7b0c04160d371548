package history

import (
	"iter"

	"github.com/afroash/aranet-archive/internal/models"
)

// Records returns the complete rows of res as archive records in ascending
// timestamp order. The sequence is lazy and can be ranged over once; later
// iterations yield nothing.
func Records(res *Result) iter.Seq[models.ArchiveRecord] {
	consumed := false
	return func(yield func(models.ArchiveRecord) bool) {
		if consumed {
			return
		}
		consumed = true

		for _, ts := range res.Table.Timestamps() {
			if !res.Table.Complete(ts) {
				continue
			}
			if !yield(res.Table.record(ts)) {
				return
			}
		}
	}
}
