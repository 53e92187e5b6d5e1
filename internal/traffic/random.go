package traffic

import "math/rand/v2"

// RandomObservations generates n synthetic sensor observations with integer
// metrics drawn uniformly over the input universes. The ground-truth label is
// set to "random" so downstream accuracy columns are visibly meaningless.
// A nil rng uses the shared global generator.
func RandomObservations(n int, rng *rand.Rand) []SensorObservation {
	intn := rand.IntN
	if rng != nil {
		intn = rng.IntN
	}

	obs := make([]SensorObservation, n)
	for i := range obs {
		obs[i] = SensorObservation{
			VehiclesPerMinute: float64(intn(int(MaxVehiclesPerMinute) + 1)),
			AvgSpeedKmh:       float64(intn(int(MaxSpeedKmh) + 1)),
			Density:           float64(intn(int(MaxDensity) + 1)),
			Expected:          "random",
		}
	}
	return obs
}
