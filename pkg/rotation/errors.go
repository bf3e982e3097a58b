package rotation

import "errors"

// ErrConfiguration is wrapped by every member-set defect. These are upstream topology
// bugs: they are surfaced at plan time and never retried.
var ErrConfiguration = errors.New("rotation: configuration defect")

var (
	ErrInvalidSize        = configError("cluster size must be >= 1")
	ErrSizeMismatch       = configError("member count does not match cluster size")
	ErrDuplicateID        = configError("duplicate member id")
	ErrDuplicatePartition = configError("duplicate partition")
	ErrPartitionMismatch  = configError("partition is not id mod size")
	ErrNotLive            = configError("member ids are not a live window")
	ErrMissingAddress     = configError("member has no endpoint address")
	ErrDuplicateAddress   = configError("endpoint address shared by two members")
	ErrInvalidAddress     = configError("endpoint address must be a bare host without scheme or port")
)

// Offset transition errors. Multi-step jumps retire several members in one pass and
// can drop the cluster below quorum.
var (
	ErrOffsetRegression  = errors.New("rotation: offset may not decrease")
	ErrMultiStepRotation = errors.New("rotation: offset may only advance by one per pass")
)

type cfgErr struct{ msg string }

func (e *cfgErr) Error() string        { return "rotation: " + e.msg }
func (e *cfgErr) Is(target error) bool { return target == ErrConfiguration }

func configError(msg string) error { return &cfgErr{msg: msg} }
