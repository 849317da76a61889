package call

import "fmt"

// MediaReason classifies a failed local media acquisition.
type MediaReason string

const (
	MediaPermissionDenied MediaReason = "permission-denied"
	MediaDeviceNotFound   MediaReason = "device-not-found"
	MediaDeviceBusy       MediaReason = "device-busy"
	MediaUnknown          MediaReason = "unknown"
)

// MediaError wraps a platform capture failure with a small reason taxonomy.
// Acquisition errors always end the call and surface a user-facing message.
type MediaError struct {
	Reason MediaReason
	Err    error
}

func (e *MediaError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media acquisition failed: %s", e.Reason)
	}
	return fmt.Sprintf("media acquisition failed (%s): %v", e.Reason, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// Message is the user-facing description of the failure.
func (e *MediaError) Message() string {
	switch e.Reason {
	case MediaPermissionDenied:
		return "Please allow camera/microphone access to use the call feature."
	case MediaDeviceNotFound:
		return "No camera or microphone was found on this device."
	case MediaDeviceBusy:
		return "The camera or microphone is already in use by another application."
	default:
		return "Could not start the call. Please check your camera and microphone."
	}
}

// SignalingError marks a malformed or unusable remote description/candidate.
// It is logged and tolerated: a single dropped candidate must not abort the
// session, since ICE gathers many candidates.
type SignalingError struct {
	Op  string
	Err error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling: %s: %v", e.Op, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }
