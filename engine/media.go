package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v3"
)

// addMedia adds the local tracks for a send/receive session and reports each
// resulting transceiver with its media line index.
func (e *PionEngine) addMedia(cfg PionConfig) error {
	var tracks []*webrtc.TrackLocalStaticSample
	if cfg.Video {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "negotiator-"+e.id)
		if err != nil {
			return fmt.Errorf("failed to create video track: %w", err)
		}
		tracks = append(tracks, video)
	}
	if cfg.Audio {
		audio, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "negotiator-"+e.id)
		if err != nil {
			return fmt.Errorf("failed to create audio track: %w", err)
		}
		tracks = append(tracks, audio)
	}

	for _, track := range tracks {
		sender, err := e.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		go e.drainRTCP(sender)

		for i, tr := range e.pc.GetTransceivers() {
			if tr.Sender() != sender {
				continue
			}
			e.events.newTransceiver(Transceiver{
				MLineIndex: uint32(i),
				Kind:       tr.Kind().String(),
				Direction:  tr.Direction().String(),
			})
		}
		e.log.Debugf("added %s track %s", track.Kind(), track.ID())
	}
	return nil
}

// drainRTCP reads sender reports so interceptors keep running.
func (e *PionEngine) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// drainRemoteTrack consumes and discards incoming media.
func (e *PionEngine) drainRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	e.log.Infof("receiving remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				if !errors.Is(err, io.EOF) {
					e.log.WithError(err).Debugf("remote %s track ended", track.Kind())
				}
				return
			}
		}
	}()
}
