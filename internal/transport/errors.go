package transport

import (
	"errors"
	"fmt"
)

var errConnectionAborted = errors.New("connection aborted: EOF mid-frame")

func errFrameTooLarge(got, max uint32) error {
	return fmt.Errorf("frame of %d bytes exceeds maximum of %d bytes", got, max)
}
