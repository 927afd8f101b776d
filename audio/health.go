/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package audio

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// Voice band of narrowband telephony
const (
	VoiceBandLow  = 300.0
	VoiceBandHigh = 3400.0
)

// Health check results
const (
	HealthOK       = "ok"
	HealthDeferred = "deferred"
	HealthPaused   = "paused"
	// HealthSilent means no energy and no packets: nothing is flowing
	HealthSilent = "silent"
	// HealthQuiet means packets arrive but carry silence
	HealthQuiet    = "quiet"
	HealthDetached = "detached"
	// HealthBlocked means playback waits for a manual enable
	HealthBlocked = "blocked"
)

// BandEnergy returns the mean power of samples between lo and hi Hz. A full
// scale sine inside the band yields about 0.25.
func BandEnergy(samples []float64, rate int, lo, hi float64) float64 {
	n := len(samples)
	if n < 2 || rate <= 0 {
		return 0
	}
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, samples)

	var energy float64
	for i, c := range coeffs {
		freq := fft.Freq(i) * float64(rate)
		if freq < lo || freq > hi {
			continue
		}
		energy += real(c)*real(c) + imag(c)*imag(c)
	}
	return energy / float64(n*n)
}
