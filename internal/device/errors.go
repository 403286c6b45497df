package device

import "errors"

// Lifecycle errors shared by the manager, hosts and device nodes.
//
// Every error has a stable numeric code (see Code) so that callers on the
// far side of a host boundary can branch on cause. Check them with
// errors.Is():
//
//	if errors.Is(err, device.ErrNoHost) {
//	    // the installer never started this host
//	}
var (
	// ErrFailure is the generic failure; used only where no narrower cause exists.
	ErrFailure = errors.New("device: failure")

	// ErrInvalidParam is returned for nil or empty required arguments.
	ErrInvalidParam = errors.New("device: invalid parameter")

	// ErrInvalidObject is returned when a mandatory capability is missing,
	// such as Bind for a published driver.
	ErrInvalidObject = errors.New("device: invalid object")

	// ErrNoDevice is returned when no device matches an ID or service name.
	ErrNoDevice = errors.New("device: no such device")

	// ErrDevInitFail is returned when a driver's Bind or Init fails.
	ErrDevInitFail = errors.New("device: driver init failed")

	// ErrPublishFail is returned when a launched device cannot publish its service.
	ErrPublishFail = errors.New("device: service publish failed")

	// ErrAttachFail is returned when a launched device cannot attach to the manager.
	ErrAttachFail = errors.New("device: attach to manager failed")

	// ErrNoHost is returned when no host client matches a host ID.
	ErrNoHost = errors.New("device: no such host")

	// ErrAlreadyInState is returned by load/unload of a device that is
	// already loaded/unloaded.
	ErrAlreadyInState = errors.New("device: already in requested state")

	// ErrAlreadyAttached is returned when a token for the device is already held.
	ErrAlreadyAttached = errors.New("device: already attached")

	// ErrAlreadyRegistered is returned when a single-slot registration is taken.
	ErrAlreadyRegistered = errors.New("device: already registered")

	// ErrServiceExists is returned when publishing a service name that is in use.
	ErrServiceExists = errors.New("device: service name in use")

	// ErrPowerNotify is returned when at least one host rejected a power event.
	ErrPowerNotify = errors.New("device: power notify failed")
)

// Stable numeric codes. Values for the shared kinds follow the framework's
// historic numbering so that logs stay comparable across implementations.
const (
	CodeSuccess           = 0
	CodeFailure           = -1
	CodeInvalidParam      = -3
	CodeInvalidObject     = -4
	CodeNoDevice          = -202
	CodeDevInitFail       = -204
	CodePublishFail       = -205
	CodeAttachFail        = -206
	CodeNoHost            = -220
	CodeAlreadyInState    = -221
	CodeAlreadyAttached   = -222
	CodeAlreadyRegistered = -223
	CodeServiceExists     = -224
	CodePowerNotify       = -225
)

var codes = []struct {
	err  error
	code int
}{
	{ErrInvalidParam, CodeInvalidParam},
	{ErrInvalidObject, CodeInvalidObject},
	{ErrNoDevice, CodeNoDevice},
	{ErrDevInitFail, CodeDevInitFail},
	{ErrPublishFail, CodePublishFail},
	{ErrAttachFail, CodeAttachFail},
	{ErrNoHost, CodeNoHost},
	{ErrAlreadyInState, CodeAlreadyInState},
	{ErrAlreadyAttached, CodeAlreadyAttached},
	{ErrAlreadyRegistered, CodeAlreadyRegistered},
	{ErrServiceExists, CodeServiceExists},
	{ErrPowerNotify, CodePowerNotify},
}

// Code maps an error to its stable numeric code.
// It returns CodeSuccess for nil and CodeFailure for unrecognised errors.
// When an error wraps several kinds, the first match in table order wins.
func Code(err error) int {
	if err == nil {
		return CodeSuccess
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeFailure
}
