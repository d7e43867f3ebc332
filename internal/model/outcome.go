package model

import "time"

// Outcome is the transient result of a single tier attempt.
// Exactly one of Success and Failure is set.
type Outcome struct {
	Success *Success
	Failure *Failure
}

type Success struct {
	Text     string
	Metadata Metadata
}

type Failure struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
}

func Succeeded(text string, meta Metadata) Outcome {
	return Outcome{Success: &Success{Text: text, Metadata: meta}}
}

func Failed(kind ErrorKind, message string, retryAfter time.Duration) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Message: message, RetryAfter: retryAfter}}
}

func (o Outcome) OK() bool {
	return o.Success != nil
}

// Kind returns the failure kind, or the empty kind on success.
func (o Outcome) Kind() ErrorKind {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Kind
}

// Label is what gets written into the attempt history.
func (o Outcome) Label() string {
	if o.OK() {
		return OutcomeSuccess
	}
	if o.Failure == nil {
		return string(KindInternalFault)
	}
	return string(o.Failure.Kind)
}

func (o Outcome) Message() string {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Message
}
