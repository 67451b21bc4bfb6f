package device

import (
	"errors"
	"fmt"
)

// Status is a runtime status code. Values follow the OpenCL numbering so
// diagnostics read the same as on a real compute runtime.
type Status int

const (
	Success                     Status = 0
	MemObjectAllocationFailure  Status = -4
	OutOfResources              Status = -5
	MapFailure                  Status = -12
	InvalidValue                Status = -30
	InvalidDevice               Status = -33
	InvalidMemObject            Status = -38
	InvalidProgramExecutable    Status = -45
	InvalidKernelName           Status = -46
	InvalidKernel               Status = -48
	InvalidArgIndex             Status = -49
	InvalidArgValue             Status = -50
	InvalidKernelArgs           Status = -52
	InvalidWorkGroupSize        Status = -54
	InvalidOperation            Status = -59
	InvalidGlobalWorkSize       Status = -63
	KernelExecutionFailure      Status = -9999
	MemoryLimitExceeded         Status = -6
	InvalidBufferSize           Status = -61
	InvalidHostMappedMemObjects Status = -9998
)

var statusNames = map[Status]string{
	Success:                     "SUCCESS",
	MemObjectAllocationFailure:  "MEM_OBJECT_ALLOCATION_FAILURE",
	OutOfResources:              "OUT_OF_RESOURCES",
	MemoryLimitExceeded:         "OUT_OF_HOST_MEMORY",
	MapFailure:                  "MAP_FAILURE",
	InvalidValue:                "INVALID_VALUE",
	InvalidDevice:               "INVALID_DEVICE",
	InvalidMemObject:            "INVALID_MEM_OBJECT",
	InvalidProgramExecutable:    "INVALID_PROGRAM_EXECUTABLE",
	InvalidKernelName:           "INVALID_KERNEL_NAME",
	InvalidKernel:               "INVALID_KERNEL",
	InvalidArgIndex:             "INVALID_ARG_INDEX",
	InvalidArgValue:             "INVALID_ARG_VALUE",
	InvalidKernelArgs:           "INVALID_KERNEL_ARGS",
	InvalidWorkGroupSize:        "INVALID_WORK_GROUP_SIZE",
	InvalidOperation:            "INVALID_OPERATION",
	InvalidBufferSize:           "INVALID_BUFFER_SIZE",
	InvalidGlobalWorkSize:       "INVALID_GLOBAL_WORK_SIZE",
	KernelExecutionFailure:      "KERNEL_EXECUTION_FAILURE",
	InvalidHostMappedMemObjects: "HOST_MAPPED_MEM_OBJECT",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", int(s))
}

// Error is a failed runtime call: a status code plus a diagnostic message.
type Error struct {
	Code    Status
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, int(e.Code), e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Status, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the status code carried by err, or Success for nil.
// Errors that do not come from a device report InvalidValue.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return InvalidValue
}
