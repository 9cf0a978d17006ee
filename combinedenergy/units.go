package combinedenergy

import "fmt"

// KWhToKW is the factor applied to a bucket energy value before dividing by
// the bucket length in seconds.
const KWhToKW = 3.6

// EnergyToPower converts the energy recorded in a bucket of the given length
// into the average power over that bucket.
func EnergyToPower(energy float64, seconds int) (float64, error) {
	if seconds <= 0 {
		return 0, fmt.Errorf("%w: bucket length must be positive, got %d", ErrInvalidIncrement, seconds)
	}
	return energy * KWhToKW / float64(seconds), nil
}
