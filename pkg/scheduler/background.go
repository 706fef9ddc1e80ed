package scheduler

import "context"

// Background returns a fire-and-forget submit helper bound to s at priority
// p. A helper bound to a nil scheduler fails fast with ErrNotInitialized on
// every call.
func Background(s *Scheduler, p Priority) func(fn TaskFunc, opts ...SubmitOption) (string, error) {
	return func(fn TaskFunc, opts ...SubmitOption) (string, error) {
		if s == nil {
			return "", ErrNotInitialized
		}
		return s.Submit(fn, append([]SubmitOption{WithPriority(p)}, opts...)...)
	}
}

// Go submits fn at the default priority, dropping the id.
func Go(s *Scheduler, fn func()) error {
	_, err := Background(s, PriorityMedium)(func(context.Context) (any, error) {
		fn()
		return nil, nil
	})
	return err
}
