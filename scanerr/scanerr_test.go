// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scanerr

import (
	"errors"
	"testing"
)

func TestWrapIs(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(DecodeFailure, "videosource.Read", base)
	if !Is(err, DecodeFailure) {
		t.Fatalf("Is(DecodeFailure) = false, want true")
	}
	if Is(err, EncoderFailed) {
		t.Fatalf("Is(EncoderFailed) = true, want false")
	}
	if !errors.Is(err, base) {
		t.Fatalf("errors.Is(err, base) = false, want true")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Internal, "op", nil) != nil {
		t.Fatalf("Wrap(nil) should return nil")
	}
}

func TestKindString(t *testing.T) {
	if Kind(999).String() != "Internal" {
		t.Fatalf("unknown kind should stringify as Internal")
	}
	if ConfigInvalid.String() != "ConfigInvalid" {
		t.Fatalf("ConfigInvalid.String() = %q", ConfigInvalid.String())
	}
}
