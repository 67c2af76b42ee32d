package failure

import (
	"errors"
	"fmt"
)

// Stage identifies where in the dialogue pipeline a failure happened
type Stage string

const (
	StageInput  Stage = "input"
	StageText   Stage = "text"
	StageSpeech Stage = "speech"
	StageDecode Stage = "decode"
)

// Kind classifies a failure
type Kind string

const (
	KindInput      Kind = "input"      // Empty question, busy or closed session
	KindTransport  Kind = "transport"  // Network error, timeout or non-success HTTP status
	KindStructural Kind = "structural" // Successful HTTP call missing expected fields
	KindDecode     Kind = "decode"     // Malformed base64 audio payload
)

// Failure is the error returned by every pipeline stage
type Failure struct {
	Stage      Stage
	Kind       Kind
	Detail     string
	StatusCode int // HTTP status for transport failures, 0 otherwise
	Err        error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s %s failure: %s: %v", f.Stage, f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s %s failure: %s", f.Stage, f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Transport creates a transport failure for the given stage
func Transport(stage Stage, detail string, err error) *Failure {
	return &Failure{Stage: stage, Kind: KindTransport, Detail: detail, Err: err}
}

// HTTPStatus creates a transport failure for a non-success HTTP response
func HTTPStatus(stage Stage, statusCode int) *Failure {
	return &Failure{
		Stage:      stage,
		Kind:       KindTransport,
		Detail:     fmt.Sprintf("unexpected status %d", statusCode),
		StatusCode: statusCode,
	}
}

// Structural creates a structural failure for the given stage
func Structural(stage Stage, detail string) *Failure {
	return &Failure{Stage: stage, Kind: KindStructural, Detail: detail}
}

// Decode creates a decode failure
func Decode(detail string, err error) *Failure {
	return &Failure{Stage: StageDecode, Kind: KindDecode, Detail: detail, Err: err}
}

// Input creates an input failure wrapping one of the sentinel input errors
func Input(err error) *Failure {
	return &Failure{Stage: StageInput, Kind: KindInput, Detail: err.Error(), Err: err}
}

// As extracts a *Failure from err
func As(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// StageOf returns the stage of err, or "" if err is not a Failure
func StageOf(err error) Stage {
	if f, ok := As(err); ok {
		return f.Stage
	}
	return ""
}

// KindOf returns the kind of err, or "" if err is not a Failure
func KindOf(err error) Kind {
	if f, ok := As(err); ok {
		return f.Kind
	}
	return ""
}
