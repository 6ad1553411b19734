// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sink

import (
	"testing"

	"gocv.io/x/gocv"

	"github.com/dsmescan/dsmescan/scanerr"
)

func TestStemFromPath(t *testing.T) {
	cases := map[string]string{
		"/a/b/cam1.mp4":  "cam1",
		"cam1.mp4":       "cam1",
		"./rel/cam.h264": "cam",
		"noext":          "noext",
		"a/b/c.tar.gz":   "c.tar",
	}
	for in, want := range cases {
		if got := stemFromPath(in); got != want {
			t.Errorf("stemFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEventFileName(t *testing.T) {
	got := eventFileName("cam1", 1, "mp4")
	want := "cam1.DSME_0001.mp4"
	if got != want {
		t.Errorf("eventFileName = %q, want %q", got, want)
	}
	got2 := eventFileName("cam1", 42, "mp4")
	if got2 != "cam1.DSME_0042.mp4" {
		t.Errorf("eventFileName = %q, want cam1.DSME_0042.mp4", got2)
	}
}

func TestDiscardSatisfiesSink(t *testing.T) {
	var s Sink = Discard{}
	m := gocv.NewMat()
	defer m.Close()
	if err := s.OnFrame(0, m, false); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewExternalRejectsNoInput(t *testing.T) {
	_, err := NewExternal(ExternalConfig{})
	if !scanerr.Is(err, scanerr.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid, got %v", err)
	}
}
