package arxiv

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindOther},
		{errors.New("plain"), KindOther},
		{context.Canceled, KindOther},
		{&NetworkError{Err: errors.New("reset")}, KindTransient},
		{fmt.Errorf("page 3: %w", &RateLimitedError{}), KindTransient},
		{&ProtocolError{Msg: "bad xml"}, KindProtocol},
		{&ProtocolError{Msg: "token", Err: ErrBadResumptionToken}, KindProtocol},
		{storageErr("load", errors.New("disk full")), KindStorage},
		{&FilterError{Msg: "oops"}, KindUserInput},
		{fmt.Errorf("%w: x", ErrInvalidID), KindUserInput},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), "%v", tt.err)
	}
}

func TestStorageErrNotDoubleWrapped(t *testing.T) {
	inner := storageErr("load", errors.New("disk full"))
	outer := storageErr("update", fmt.Errorf("tx: %w", inner))

	var se *StorageError
	assert.True(t, errors.As(outer, &se))
	assert.Equal(t, "load", se.Op)
	assert.Nil(t, storageErr("noop", nil))
}
