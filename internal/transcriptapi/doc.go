// Package transcriptapi talks to the metered hosted transcript API used as the
// last extraction tier. One call is one billable request; retries are the caller's job.
package transcriptapi
