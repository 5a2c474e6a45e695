package util

import (
	"fmt"
	"net/http"
)

// MyResponseError is a controller-level failure that already knows its HTTP status.
type MyResponseError struct {
	Msg    string
	Status int
}

func (e MyResponseError) Error() string { return e.Msg }

func NewResponseError(status int, format string, args ...interface{}) error {
	return MyResponseError{
		Msg:    fmt.Sprintf(format, args...),
		Status: status,
	}
}

func NewBadRequest(format string, args ...interface{}) error {
	return NewResponseError(http.StatusBadRequest, format, args...)
}
