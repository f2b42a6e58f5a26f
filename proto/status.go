package proto

// Acknowledge and completion status values.
const (
	StatusSuccess            = "success"
	StatusInvalidRequestID   = "invalidRequestID"
	StatusUnsupportedCommand = "unsupportedCommand"
	StatusInternalError      = "internalError"
	StatusCanceled           = "canceled"
	StatusTimeOut            = "timeOut"
	StatusInvalidCommand     = "invalidCommand"
	StatusInvalidMessage     = "invalidMessage"
	StatusSequenceError      = "sequenceError"
	StatusHardwareError      = "hardwareError"
)

// Well-known command names used by the engine itself.
const (
	CommonStatus       = "Common.Status"
	CommonCapabilities = "Common.Capabilities"
	CommonCancel       = "Common.Cancel"
	GetServices        = "ServicePublisher.GetServices"
)

// Device states reported in Common.Status.
const (
	DeviceOnline         = "online"
	DeviceOffline        = "offline"
	DevicePowerOff       = "powerOff"
	DeviceNoDevice       = "noDevice"
	DeviceHardwareError  = "hardwareError"
	DeviceUserError      = "userError"
	DeviceBusy           = "deviceBusy"
	DeviceFraudAttempt   = "fraudAttempt"
	DevicePotentialFraud = "potentialFraud"
)

// IsSuccess reports whether a completion status means success. An empty
// status is treated as success for services that omit it.
func IsSuccess(status string) bool {
	return status == "" || status == StatusSuccess
}
