// Package analysis inspects recorded servo runs.
//
//   - [Spectrum]: amplitude spectrum of a sampled signal
//   - [NewPortrait]: 2D phase portrait from two recorded series
//   - [NewSection]: points where one series crosses a threshold
//
// A joint oscillating under a badly tuned PD loop shows up as a sharp
// peak in its spectrum:
//
//	sp := analysis.Spectrum(th, 1000)
//	f, _ := sp.Peak()
package analysis
