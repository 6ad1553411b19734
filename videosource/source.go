// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package videosource reads frames from an ordered list of input files that
// must share resolution and framerate, presenting a single virtual stream
// with contiguous frame indices. Backed by gocv.VideoCapture, the same
// decoder class used for background subtraction elsewhere in this module.
package videosource

import (
	"fmt"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/dsmescan/dsmescan/scanerr"
	"github.com/dsmescan/dsmescan/timecode"
)

// maxConsecutiveDecodeFailures is the tolerance before a read gives up with
// scanerr.DecodeFailure, per the source-layer error policy.
const maxConsecutiveDecodeFailures = 5

// Metadata describes the canonical stream properties established by the
// first input file.
type Metadata struct {
	Width, Height int
	FPS           timecode.Rational
	// TotalFramesEstimate sums each input's reported frame count; may be
	// inexact for containers that don't report duration precisely.
	TotalFramesEstimate uint64
}

// Frame is an immutable per-frame record. Pixels is a three-channel 8-bit
// BGR image (gocv's native layout) at source resolution.
type Frame struct {
	Index            uint64
	Pixels           gocv.Mat
	PresentationTime timecode.Timecode
}

// Close releases the frame's pixel buffer.
func (f *Frame) Close() error {
	if f.Pixels.Empty() {
		return nil
	}
	return f.Pixels.Close()
}

// Source presents a virtual concatenated stream over one or more video
// files opened in the given order.
type Source struct {
	paths  []string
	usePTS bool

	meta Metadata

	fileIdx   int
	cap       *gocv.VideoCapture
	localIdx  uint64 // frame index within the current file
	globalIdx uint64 // next global frame index to hand out

	consecutiveFailures int
	pendingErr          error
}

// New constructs a Source over paths, read in order. usePTS is stored but
// not consulted: PresentationTime is always index/fps, never the
// container's own timestamps. Index-based bookkeeping is the same either way.
func New(paths []string, usePTS bool) (*Source, error) {
	if len(paths) == 0 {
		return nil, scanerr.New(scanerr.ConfigInvalid, "videosource.New", "no input files given")
	}
	return &Source{paths: paths, usePTS: usePTS}, nil
}

// Open opens the first input file, then probes every remaining input file
// (opening and immediately closing each) to validate resolution/framerate
// against the first before returning. A mismatch anywhere in the input list
// is reported here, before any frame is read, rather than lazily once
// decoding reaches that file.
func (s *Source) Open() (Metadata, error) {
	vc, err := openOne(s.paths[0])
	if err != nil {
		return Metadata{}, scanerr.Wrap(scanerr.InputNotFound, "videosource.Open", err)
	}
	w := int(vc.Get(gocv.VideoCaptureFrameWidth))
	h := int(vc.Get(gocv.VideoCaptureFrameHeight))
	fps := vc.Get(gocv.VideoCaptureFPS)
	if w <= 0 || h <= 0 || fps <= 0 {
		vc.Close()
		return Metadata{}, scanerr.New(scanerr.InputNotFound, "videosource.Open", fmt.Sprintf("could not read stream properties from %q", s.paths[0]))
	}
	canonicalFPS := timecode.Rationalize(fps)
	total := uint64(vc.Get(gocv.VideoCaptureFrameCount))

	for _, p := range s.paths[1:] {
		pw, ph, pfps, pframes, perr := probeMetadata(p)
		if perr != nil {
			vc.Close()
			return Metadata{}, scanerr.Wrap(scanerr.InputNotFound, "videosource.Open", perr)
		}
		if err := checkMetadataMatch(p, pw, ph, pfps, w, h, canonicalFPS); err != nil {
			vc.Close()
			return Metadata{}, err
		}
		total += pframes
	}

	s.cap = vc
	s.fileIdx = 0
	s.meta = Metadata{Width: w, Height: h, FPS: canonicalFPS, TotalFramesEstimate: total}
	return s.meta, nil
}

// checkMetadataMatch compares one later input file's probed resolution/fps
// against the canonical values established by the first file, kept as a
// pure function so the mismatch-detection logic can be unit tested without
// a real decodable video file.
func checkMetadataMatch(path string, w, h int, fps float64, canonicalW, canonicalH int, canonicalFPS timecode.Rational) error {
	if w != canonicalW || h != canonicalH {
		return scanerr.New(scanerr.ResolutionMismatch, "videosource.Open",
			fmt.Sprintf("%q is %dx%d, expected %dx%d", path, w, h, canonicalW, canonicalH))
	}
	if timecode.Rationalize(fps) != canonicalFPS {
		return scanerr.New(scanerr.FramerateMismatch, "videosource.Open",
			fmt.Sprintf("%q reports %.3f fps, expected %.3f fps", path, fps, canonicalFPS.FPS()))
	}
	return nil
}

// probeMetadata opens path just long enough to read its stream properties.
func probeMetadata(path string) (w, h int, fps float64, frames uint64, err error) {
	vc, err := openOne(path)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	defer vc.Close()
	w = int(vc.Get(gocv.VideoCaptureFrameWidth))
	h = int(vc.Get(gocv.VideoCaptureFrameHeight))
	fps = vc.Get(gocv.VideoCaptureFPS)
	n := vc.Get(gocv.VideoCaptureFrameCount)
	if n > 0 {
		frames = uint64(n)
	}
	return w, h, fps, frames, nil
}

func openOne(path string) (*gocv.VideoCapture, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("could not open %q", path)
	}
	return vc, nil
}

// Read returns the next frame, or (nil, nil) at end of the virtual stream.
// Up to maxConsecutiveDecodeFailures decode failures in a row are skipped
// (the global index still advances); exceeding that returns
// scanerr.DecodeFailure.
func (s *Source) Read() (*Frame, error) {
	for {
		if s.cap == nil {
			return nil, scanerr.New(scanerr.Internal, "videosource.Read", "Read called before Open")
		}
		mat := gocv.NewMat()
		ok := s.cap.Read(&mat)
		if !ok || mat.Empty() {
			mat.Close()
			if !s.advanceFile() {
				if s.pendingErr != nil {
					err := s.pendingErr
					s.pendingErr = nil
					return nil, err
				}
				return nil, nil
			}
			continue
		}
		if mat.Cols() != s.meta.Width || mat.Rows() != s.meta.Height {
			mat.Close()
			s.consecutiveFailures++
			s.globalIdx++
			if s.consecutiveFailures > maxConsecutiveDecodeFailures {
				return nil, scanerr.New(scanerr.DecodeFailure, "videosource.Read", "too many consecutive decode failures")
			}
			slog.Warn("videosource: skipping malformed frame", "index", s.globalIdx-1)
			continue
		}
		s.consecutiveFailures = 0
		idx := s.globalIdx
		s.globalIdx++
		s.localIdx++
		pts := s.presentationTime(idx)
		return &Frame{Index: idx, Pixels: mat, PresentationTime: pts}, nil
	}
}

func (s *Source) presentationTime(idx uint64) timecode.Timecode {
	// usePTS is not consulted: both modes compute the same index/fps value
	// for the public Timecode, and the container's timestamp is not read.
	// Bookkeeping stays on integer indices regardless of usePTS.
	return timecode.New(idx, s.meta.FPS)
}

// advanceFile closes the current file and opens the next one in order.
// Resolution/framerate were already validated for every input up front in
// Open, so this only has to handle a file that fails to open at all (e.g.
// removed between Open and Read reaching it). Returns false once all inputs
// are exhausted (end of virtual stream).
func (s *Source) advanceFile() bool {
	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
	}
	s.fileIdx++
	if s.fileIdx >= len(s.paths) {
		return false
	}
	path := s.paths[s.fileIdx]
	vc, err := openOne(path)
	if err != nil {
		s.pendingErr = scanerr.Wrap(scanerr.InputNotFound, "videosource.advanceFile", err)
		return false
	}
	s.cap = vc
	s.localIdx = 0
	return true
}

// Seek positions the source so the next Read returns the frame at
// targetIndex. Containers that cannot seek exactly fall back to sequential
// decode-and-discard from the current position.
func (s *Source) Seek(targetIndex uint64) error {
	if s.cap == nil {
		return scanerr.New(scanerr.Internal, "videosource.Seek", "Seek called before Open")
	}
	if targetIndex < s.globalIdx {
		return scanerr.New(scanerr.Internal, "videosource.Seek", "cannot seek backward across the virtual stream")
	}
	// Only seeking within the current file is attempted directly; crossing
	// a file boundary falls back to sequential discard, matching "fall back
	// to sequential decode ... and discard intervening frames" for
	// containers that can't seek exactly.
	delta := targetIndex - s.globalIdx
	wantLocal := s.localIdx + delta
	s.cap.Set(gocv.VideoCapturePosFrames, float64(wantLocal))
	if uint64(s.cap.Get(gocv.VideoCapturePosFrames)) == wantLocal {
		s.localIdx = wantLocal
		s.globalIdx = targetIndex
		return nil
	}
	for s.globalIdx < targetIndex {
		f, err := s.Read()
		if err != nil {
			return err
		}
		if f == nil {
			return nil
		}
		f.Close()
	}
	return nil
}

// Close releases the currently open decoder, if any.
func (s *Source) Close() error {
	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.cap = nil
	return err
}
