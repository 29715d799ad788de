package batch

import "github.com/iudanet/docsync/pkg/api"

// DefaultMaxAttempts число повторных отправок по умолчанию
const DefaultMaxAttempts = 3

// RetryPolicy решает, отправлять ли повторно неподтвержденные id в конце прохода
type RetryPolicy interface {
	// ShouldRetry вызывается с номером попытки, начиная с 1
	ShouldRetry(outstanding api.Receipt, attempt int) bool
}

// MaxAttempts allows at most N resends per pass.
type MaxAttempts struct {
	N int
}

func (p MaxAttempts) ShouldRetry(outstanding api.Receipt, attempt int) bool {
	return !outstanding.IsEmpty() && attempt <= p.N
}

// NoRetry never resends; outstanding ids stay in the journal for the next pass.
type NoRetry struct{}

func (NoRetry) ShouldRetry(api.Receipt, int) bool {
	return false
}

// DefaultRetryPolicy returns MaxAttempts{N: DefaultMaxAttempts}.
func DefaultRetryPolicy() RetryPolicy {
	return MaxAttempts{N: DefaultMaxAttempts}
}
