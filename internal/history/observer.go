package history

import (
	"time"

	"github.com/afroash/aranet-archive/internal/models"
)

// Observer receives progress events from a fetch. Implementations must be
// cheap; they are called inline on the session's control flow.
type Observer interface {
	PageDecoded(kind models.ParameterKind, samples int)
	BusyRetry(kind models.ParameterKind)
	KindCompleted(kind models.ParameterKind, samples int)
	KindFailed(kind models.ParameterKind)
	FetchCompleted(elapsed time.Duration, rows int)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) PageDecoded(models.ParameterKind, int)   {}
func (NopObserver) BusyRetry(models.ParameterKind)          {}
func (NopObserver) KindCompleted(models.ParameterKind, int) {}
func (NopObserver) KindFailed(models.ParameterKind)         {}
func (NopObserver) FetchCompleted(time.Duration, int)       {}
