// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package videosource

import (
	"testing"

	"github.com/dsmescan/dsmescan/scanerr"
	"github.com/dsmescan/dsmescan/timecode"
)

func TestNewRejectsNoInputs(t *testing.T) {
	_, err := New(nil, false)
	if !scanerr.Is(err, scanerr.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid, got %v", err)
	}
}

func TestReadBeforeOpen(t *testing.T) {
	s, err := New([]string{"unused.mp4"}, false)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Read()
	if !scanerr.Is(err, scanerr.Internal) {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestSeekBeforeOpen(t *testing.T) {
	s, err := New([]string{"unused.mp4"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Seek(10); !scanerr.Is(err, scanerr.Internal) {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestCloseWithoutOpenIsNoop(t *testing.T) {
	s, err := New([]string{"unused.mp4"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}
}

func TestCheckMetadataMatchOK(t *testing.T) {
	fps := timecode.Rationalize(30)
	if err := checkMetadataMatch("b.mp4", 1920, 1080, 30, 1920, 1080, fps); err != nil {
		t.Fatalf("checkMetadataMatch() = %v, want nil", err)
	}
}

func TestCheckMetadataMatchResolutionMismatch(t *testing.T) {
	fps := timecode.Rationalize(30)
	err := checkMetadataMatch("b.mp4", 1280, 720, 30, 1920, 1080, fps)
	if !scanerr.Is(err, scanerr.ResolutionMismatch) {
		t.Fatalf("expected ResolutionMismatch, got %v", err)
	}
}

func TestCheckMetadataMatchFramerateMismatch(t *testing.T) {
	fps := timecode.Rationalize(30)
	err := checkMetadataMatch("b.mp4", 1920, 1080, 25, 1920, 1080, fps)
	if !scanerr.Is(err, scanerr.FramerateMismatch) {
		t.Fatalf("expected FramerateMismatch, got %v", err)
	}
}
