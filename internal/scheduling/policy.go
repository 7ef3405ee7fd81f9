package scheduling

import (
	"context"
	"math/rand/v2"
	"time"
)

// DoctorPolicy selects which eligible doctor receives a new turn.
type DoctorPolicy interface {
	Pick(ctx context.Context, doctors []Doctor, date time.Time) (Doctor, error)
}

// RandomPolicy picks uniformly at random. This mirrors the historical
// behavior; it makes no fairness guarantee.
type RandomPolicy struct{}

func (RandomPolicy) Pick(_ context.Context, doctors []Doctor, _ time.Time) (Doctor, error) {
	if len(doctors) == 0 {
		return Doctor{}, ErrNoDoctorsForSpeciality
	}
	return doctors[rand.IntN(len(doctors))], nil
}

// LeastLoadedPolicy picks the doctor with the fewest turns already assigned
// on the requested date, breaking ties by listing order.
type LeastLoadedPolicy struct{}

func (LeastLoadedPolicy) Pick(_ context.Context, doctors []Doctor, _ time.Time) (Doctor, error) {
	if len(doctors) == 0 {
		return Doctor{}, ErrNoDoctorsForSpeciality
	}
	best := doctors[0]
	for _, doctor := range doctors[1:] {
		if doctor.DayLoad < best.DayLoad {
			best = doctor
		}
	}
	return best, nil
}

// PolicyFromName resolves a configured policy name; unknown names fall back
// to random.
func PolicyFromName(name string) DoctorPolicy {
	if name == "least_loaded" {
		return LeastLoadedPolicy{}
	}
	return RandomPolicy{}
}
