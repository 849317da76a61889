package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog"

	"github.com/Mayank77maruti/Meu-ChaT/internal/models"

	// Register the camera and microphone drivers.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

// DeviceAcquirer captures local audio and video through the host's capture
// drivers. A single acquirer is shared by every call the process makes; the
// codec selector it builds must also populate the peer connection's media
// engine (see NewPionFactory).
type DeviceAcquirer struct {
	selector *mediadevices.CodecSelector
	log      zerolog.Logger
}

func NewDeviceAcquirer(logger zerolog.Logger) (*DeviceAcquirer, error) {
	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("init vp8 encoder: %w", err)
	}
	vp8Params.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("init opus encoder: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vp8Params),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &DeviceAcquirer{selector: selector, log: logger}, nil
}

// Acquire opens the microphone, and for video calls also the camera. The
// camera is never touched on an audio call.
func (a *DeviceAcquirer) Acquire(_ context.Context, callType models.CallType) (LocalMedia, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: a.selector,
	}
	if callType == models.CallTypeVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.IntRanged{Ideal: 1280}
			c.Height = prop.IntRanged{Ideal: 720}
			// Raw formats only. Some cameras expose an MJPEG node
			// producing malformed JPEG frames that poison the VP8
			// encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		a.log.Error().Err(err).Str("callType", string(callType)).Msg("Media capture failed")
		return nil, mapMediaError(err)
	}
	a.log.Info().Str("callType", string(callType)).Int("tracks", len(stream.GetTracks())).Msg("Local media acquired")
	return &DeviceMedia{stream: stream}, nil
}

// DeviceMedia is the captured stream backing a live call.
type DeviceMedia struct {
	stream   mediadevices.MediaStream
	stopOnce sync.Once
}

func (m *DeviceMedia) Tracks() []mediadevices.Track {
	return m.stream.GetTracks()
}

func (m *DeviceMedia) Stop() {
	m.stopOnce.Do(func() {
		for _, track := range m.stream.GetTracks() {
			track.Close()
		}
	})
}

// mapMediaError classifies a capture failure so callers can show the right
// message instead of a raw driver error.
func mapMediaError(err error) error {
	switch {
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return &MediaError{Reason: MediaPermissionDenied, Err: err}
	case errors.Is(err, syscall.EBUSY):
		return &MediaError{Reason: MediaDeviceBusy, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return &MediaError{Reason: MediaPermissionDenied, Err: err}
	case strings.Contains(msg, "busy"):
		return &MediaError{Reason: MediaDeviceBusy, Err: err}
	case strings.Contains(msg, "failed to find"),
		strings.Contains(msg, "no such device"),
		strings.Contains(msg, "not found"):
		return &MediaError{Reason: MediaDeviceNotFound, Err: err}
	}
	return &MediaError{Reason: MediaUnknown, Err: err}
}
