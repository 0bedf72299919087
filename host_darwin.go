// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pinput

import (
	// Make sure required drivers are registered.
	_ "github.com/VyrCossont/pinput/procmem"
)
