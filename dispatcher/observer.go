package dispatcher

import (
	"time"

	dapi "github.com/goliatone/go-dapi"
)

// Observer is notified about dispatch activity. Implementations must be
// safe for concurrent use.
type Observer interface {
	ObserveDispatch(req dapi.Request, env dapi.Envelope, elapsed time.Duration)
	ObserveFanOut(req dapi.Request, results []dapi.NodeResult)
	ObserveLateResult(req dapi.Request)
}

type nopObserver struct{}

func (nopObserver) ObserveDispatch(dapi.Request, dapi.Envelope, time.Duration) {}
func (nopObserver) ObserveFanOut(dapi.Request, []dapi.NodeResult)              {}
func (nopObserver) ObserveLateResult(dapi.Request)                             {}
