// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package token

import "crypto/rand"

// readRandom fills buffer from the system CSPRNG. crypto/rand.Read is
// documented to never fail on supported platforms; a failure here
// means the process cannot safely continue issuing identifiers.
func readRandom(buffer []byte) {
	if _, err := rand.Read(buffer); err != nil {
		panic("token: system random source unavailable: " + err.Error())
	}
}
