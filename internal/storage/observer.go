package storage

import "time"

// Observer receives engine events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ObservePut(payloadBytes int, elapsed time.Duration, err error)
	ObserveGet(payloadBytes int, elapsed time.Duration, err error)
	ObserveDelete(found bool, elapsed time.Duration, err error)
	ObserveRotate(sealedID, activeID uint64)
	ObserveCompaction(res CompactionResult, elapsed time.Duration, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ObservePut(int, time.Duration, error)                     {}
func (NopObserver) ObserveGet(int, time.Duration, error)                     {}
func (NopObserver) ObserveDelete(bool, time.Duration, error)                 {}
func (NopObserver) ObserveRotate(uint64, uint64)                             {}
func (NopObserver) ObserveCompaction(CompactionResult, time.Duration, error) {}
