// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scan

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dsmescan/dsmescan/timecode"
	"github.com/dsmescan/dsmescan/tracker"
)

// WriteEventTable prints the human-readable event table to w.
func WriteEventTable(w io.Writer, events []tracker.Event, fps timecode.Rational) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tSTART\tEND\tPEAK SCORE\tPEAK FRAME")
	for i, ev := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%d\n",
			i+1,
			timecode.New(ev.Start, fps),
			timecode.New(ev.End, fps),
			ev.PeakScore,
			ev.PeakFrame,
		)
	}
	return tw.Flush()
}
