package db

import (
	"fmt"

	"authcore/internal/domain"
)

var errDBUnavailable = fmt.Errorf("%w: database not configured", domain.ErrStoreUnavailable)

func copyBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
