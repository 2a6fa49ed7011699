package enhance

import "time"

// RetryPolicy bounds the per-frame enhancement attempts and rotates work
// across candidate accelerators.
type RetryPolicy struct {
	// MaxAttempts is the number of enhancement invocations tried per frame
	// before the identity fallback applies.
	MaxAttempts int
	// GPUs is the ordered candidate accelerator list. Empty means the
	// enhancer picks its default device.
	GPUs []int
	// AttemptTimeout bounds a single invocation. Zero disables the bound. A
	// timed-out invocation consumes one attempt.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy matches the shipped behavior: three attempts rotating
// across two accelerators with a two minute cap per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		GPUs:           []int{0, 1},
		AttemptTimeout: 2 * time.Minute,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// GPUFor selects the accelerator for a zero-based attempt number. It returns
// -1 when no candidates are configured.
func (p RetryPolicy) GPUFor(attempt int) int {
	if len(p.GPUs) == 0 {
		return -1
	}
	return p.GPUs[attempt%len(p.GPUs)]
}
