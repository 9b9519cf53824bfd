package service

import (
	"errors"
	"net/http"
)

type Outcome int

const (
	Transient Outcome = iota
	Permanent
)

func (o Outcome) String() string {
	if o == Permanent {
		return "permanent"
	}
	return "transient"
}

// codedError is implemented by gateway errors that carry a provider code and
// the HTTP status of the rejected call.
type codedError interface {
	ErrorCode() string
	HTTPStatus() int
}

var permanentCodes = map[string]struct{}{
	"UNREGISTERED":  {},
	"INVALID_TOKEN": {},
	"NOT_FOUND":     {},
}

// Classify decides whether a send failure means the token will never accept
// delivery again. Anything that is not clearly permanent is transient.
func Classify(err error) Outcome {
	if err == nil {
		return Transient
	}

	var ce codedError
	if !errors.As(err, &ce) {
		return Transient
	}

	if code := ce.ErrorCode(); code != "" {
		if _, ok := permanentCodes[code]; ok {
			return Permanent
		}
		return Transient
	}

	switch ce.HTTPStatus() {
	case http.StatusNotFound, http.StatusGone:
		return Permanent
	}
	return Transient
}
