package sim

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pphpc/ppsim/sim/device"
)

func TestError_Format(t *testing.T) {
	err := newError(AllocationError, "create region agents",
		device.Errorf(device.MemObjectAllocationFailure, "too big"))

	assert.Equal(t,
		"allocation error: create region agents: MEM_OBJECT_ALLOCATION_FAILURE (-4): too big",
		err.Error())
}

func TestKindOf_WrappedErrors(t *testing.T) {
	base := newError(MappingError, "map stats", errors.New("boom"))
	wrapped := fmt.Errorf("export: %w", base)

	assert.Equal(t, MappingError, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, MappingError))
	assert.False(t, IsKind(wrapped, IOError))
	assert.Equal(t, ErrorKind(0), KindOf(errors.New("plain")))
}

func TestDiagnostic(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil",
			err:  nil,
			want: "",
		},
		{
			name: "device status is reported",
			err:  newError(DispatchError, "step1", device.Errorf(device.InvalidWorkGroupSize, "bad")),
			want: "Error -54: dispatch error: step1: INVALID_WORK_GROUP_SIZE (-54): bad",
		},
		{
			name: "non-device cause",
			err:  configErrorf("partition", "too short"),
			want: "Error -30: configuration error: partition: too short",
		},
		{
			name: "build log is appended",
			err:  &Error{Kind: BuildError, Op: "build program", Err: errors.New("failed"), BuildLog: "kernel step1: error\n"},
			want: "Error -30: build error: build program: failed\n---- build log ----\nkernel step1: error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Diagnostic(tt.err))
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "I/O error", IOError.String())
	assert.Equal(t, "ErrorKind(99)", ErrorKind(99).String())
}
