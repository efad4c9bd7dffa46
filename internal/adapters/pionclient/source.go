package pionclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	oggPageDuration = 20 * time.Millisecond
	opusSampleRate  = 48000
)

var opusTags = []byte("OpusTags")

// source yields encoded frames from a capture file and starts over at
// the end, so a short clip plays as an endless feed.
type source interface {
	// next returns the next frame and how long it lasts.
	next() ([]byte, time.Duration, error)
	// interval is the pacing of next calls.
	interval() time.Duration
	close() error
}

type ivfSource struct {
	f      *os.File
	r      *ivfreader.IVFReader
	header *ivfreader.IVFFileHeader
	frame  time.Duration
}

func openIVF(f *os.File) (*ivfSource, error) {
	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("read ivf header: %w", err)
	}
	s := &ivfSource{f: f, r: r, header: header, frame: 33 * time.Millisecond}
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		s.frame = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	return s, nil
}

func (s *ivfSource) next() ([]byte, time.Duration, error) {
	frame, _, err := s.r.ParseNextFrame()
	if errors.Is(err, io.EOF) {
		if err := s.rewind(); err != nil {
			return nil, 0, err
		}
		frame, _, err = s.r.ParseNextFrame()
	}
	if err != nil {
		return nil, 0, err
	}
	return frame, s.frame, nil
}

func (s *ivfSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := ivfreader.NewWith(s.f)
	if err != nil {
		return err
	}
	s.r = r
	return nil
}

func (s *ivfSource) interval() time.Duration { return s.frame }
func (s *ivfSource) close() error            { return s.f.Close() }

type oggSource struct {
	f           *os.File
	r           *oggreader.OggReader
	lastGranule uint64
}

func openOgg(f *os.File) (*oggSource, error) {
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("read ogg header: %w", err)
	}
	return &oggSource{f: f, r: r}, nil
}

// next skips the OpusTags comment page, which the reader leaves in the
// stream after consuming OpusHead.
func (s *oggSource) next() ([]byte, time.Duration, error) {
	var (
		page   []byte
		header *oggreader.OggPageHeader
		err    error
	)
	rewound := false
	for {
		page, header, err = s.r.ParseNextPage()
		if errors.Is(err, io.EOF) && !rewound {
			if err := s.rewind(); err != nil {
				return nil, 0, err
			}
			rewound = true
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if !bytes.HasPrefix(page, opusTags) {
			break
		}
	}
	samples := header.GranulePosition - s.lastGranule
	if header.GranulePosition < s.lastGranule {
		samples = 0
	}
	s.lastGranule = header.GranulePosition
	return page, time.Duration(float64(samples) / opusSampleRate * float64(time.Second)), nil
}

func (s *oggSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := oggreader.NewWith(s.f)
	if err != nil {
		return err
	}
	s.r = r
	s.lastGranule = 0
	return nil
}

func (s *oggSource) interval() time.Duration { return oggPageDuration }
func (s *oggSource) close() error            { return s.f.Close() }
