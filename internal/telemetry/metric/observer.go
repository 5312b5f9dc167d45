package metric

import (
	"errors"
	"time"

	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/storage"
)

const (
	resultOK       = "ok"
	resultNotFound = "not_found"
	resultError    = "error"
)

// Observer returns a storage.Observer that records into r.
func (r *Registry) Observer() storage.Observer {
	return engineObserver{r: r}
}

type engineObserver struct {
	r *Registry
}

func result(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, domain.ErrNotFound):
		return resultNotFound
	default:
		return resultError
	}
}

func (o engineObserver) ObservePut(n int, elapsed time.Duration, err error) {
	o.r.Puts.WithLabelValues(result(err)).Inc()
	o.r.OpDuration.WithLabelValues("put").Observe(elapsed.Seconds())
	if err == nil {
		o.r.PayloadBytes.WithLabelValues("put").Observe(float64(n))
	}
}

func (o engineObserver) ObserveGet(n int, elapsed time.Duration, err error) {
	o.r.Gets.WithLabelValues(result(err)).Inc()
	o.r.OpDuration.WithLabelValues("get").Observe(elapsed.Seconds())
	if err == nil {
		o.r.PayloadBytes.WithLabelValues("get").Observe(float64(n))
	}
}

func (o engineObserver) ObserveDelete(found bool, elapsed time.Duration, err error) {
	res := result(err)
	if err == nil && !found {
		res = resultNotFound
	}
	o.r.Deletes.WithLabelValues(res).Inc()
	o.r.OpDuration.WithLabelValues("delete").Observe(elapsed.Seconds())
}

func (o engineObserver) ObserveRotate(uint64, uint64) {
	o.r.Rotations.Inc()
}

func (o engineObserver) ObserveCompaction(res storage.CompactionResult, elapsed time.Duration, err error) {
	if errors.Is(err, domain.ErrEngineClosed) {
		return
	}
	o.r.Compactions.WithLabelValues(result(err)).Inc()
	o.r.CompactionDuration.Observe(elapsed.Seconds())
	o.r.CompactionRelocated.Add(float64(res.RecordsRelocated))
	o.r.CompactionReclaimed.Add(float64(res.BytesReclaimed))
	o.r.TombstonesCarried.Add(float64(res.TombstonesCarried))
}
