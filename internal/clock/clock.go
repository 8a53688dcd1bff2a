package clock

import "time"

// Clock abstracts wall-clock time so schedulers and period math are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func NewSystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC() }
