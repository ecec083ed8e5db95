package service

import "time"

// Clock abstracts time for testability, mirroring the teacher's Clock/
// SystemClock split.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Option configures a Service during construction.
type Option func(*Service)

// WithClock overrides the system clock (tests supply a fixed clock).
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithIDGen overrides the id generator used for new memory/fact ids
// (production wiring passes uuid.NewString).
func WithIDGen(f func() string) Option { return func(s *Service) { s.idGen = f } }
