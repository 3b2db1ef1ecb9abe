package job

import "time"

// Option configures a job at construction time.
type Option func(*Job)

// WithRetries sets the retry budget. Both MaxRetries and RetriesLeft start
// at n.
func WithRetries(n int) Option {
	return func(j *Job) {
		j.MaxRetries = n
		j.RetriesLeft = n
	}
}

// WithRetryDelay sets the delay before a retried job becomes visible again.
func WithRetryDelay(d time.Duration) Option {
	return func(j *Job) { j.RetryDelay = d }
}

// WithTimeout sets the per-job wall-clock limit. Zero keeps the runtime
// default.
func WithTimeout(d time.Duration) Option {
	return func(j *Job) { j.Timeout = d }
}

// WithTimeoutPolicy sets the decision taken after a timeout.
func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(j *Job) { j.TimeoutPolicy = p }
}

// WithoutResult suppresses result persistence for this job.
func WithoutResult() Option {
	return func(j *Job) { j.StoreResult = false }
}

// WithTags attaches human metadata tags.
func WithTags(tags ...string) Option {
	return func(j *Job) { j.Tags = tags }
}

// WithDescription attaches a human-readable description.
func WithDescription(desc string) Option {
	return func(j *Job) { j.Description = desc }
}
