// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scan

import "os"

// interruptSignals lists the signals that cancel a running scan.
func interruptSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
