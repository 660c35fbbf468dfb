package ook

import (
	"github.com/containerd/errdefs"
)

// Faults raised while resolving or running a program. All of them are fatal to
// the run; the errdefs kinds let callers classify them with errdefs.Is*.
var (
	ErrInvalidInput       = errdefs.ErrInvalidArgument.WithMessage("input is not a base-10 integer")
	ErrTapeUnderflow      = errdefs.ErrOutOfRange.WithMessage("tape position moved left of cell 0")
	ErrUnmatchedLoopStart = errdefs.ErrFailedPrecondition.WithMessage("loop start has no matching loop end")
	ErrUnmatchedLoopEnd   = errdefs.ErrFailedPrecondition.WithMessage("loop end has no matching loop start")
)
