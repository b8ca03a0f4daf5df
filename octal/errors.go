package octal

import "errors"

var (
	// ErrAllocationFailed means the driver could not be installed.
	ErrAllocationFailed = errors.New("octal: driver allocation failed")
	// ErrValidationFailed wraps the carrier's reason for rejecting a module.
	ErrValidationFailed = errors.New("octal: module validation failed")
	// ErrCapacityExceeded means the module table is full.
	ErrCapacityExceeded = errors.New("octal: maximum module count exceeded")
	// ErrInvalidArgument is returned for missing names or identifiers.
	ErrInvalidArgument = errors.New("octal: invalid argument")
	// ErrUnsupportedType is returned for a module type other than 232/422/485.
	ErrUnsupportedType = errors.New("octal: unsupported module type")
	// ErrUnknownModule is returned when no module has the given ID.
	ErrUnknownModule = errors.New("octal: unknown module")
	// ErrInvalidPort is returned for a port outside 0..7.
	ErrInvalidPort = errors.New("octal: invalid port")
	// ErrAlreadyCreated is returned when a port already has a device.
	ErrAlreadyCreated = errors.New("octal: port already created")
	// ErrNameInUse is returned when a device name is already registered.
	ErrNameInUse = errors.New("octal: device name in use")
	// ErrNoSuchDevice is returned when no device has the given name.
	ErrNoSuchDevice = errors.New("octal: no such device")
	// ErrNotCreated is returned for configuration or I/O on a port that
	// has no device.
	ErrNotCreated = errors.New("octal: port not created")
	// ErrUnsupportedRate is returned for a baud rate the BRG cannot make.
	ErrUnsupportedRate = errors.New("octal: unsupported baud rate")
	// ErrQuiesced is returned once the driver has been shut down.
	ErrQuiesced = errors.New("octal: driver quiesced")
)
