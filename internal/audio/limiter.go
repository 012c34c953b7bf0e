package audio

import "math"

// LimiterKnee is the level above which SoftLimit starts compressing.
const LimiterKnee = 0.8

// SoftLimit passes x through unchanged inside [-LimiterKnee, LimiterKnee]
// and bends anything louder towards ±1 with a tanh curve. The curve meets
// the linear part with slope 1, so it never clicks at the knee, and its
// output never reaches 1.
func SoftLimit(x float64) float64 {
	a := math.Abs(x)
	if a <= LimiterKnee {
		return x
	}
	headroom := 1 - LimiterKnee
	y := LimiterKnee + headroom*math.Tanh((a-LimiterKnee)/headroom)
	if x < 0 {
		return -y
	}
	return y
}
