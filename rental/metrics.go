package rental

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	reservations    *prometheus.CounterVec
	unlocks         *prometheus.CounterVec
	ridesCompleted  prometheus.Counter
	rideDistance    prometheus.Histogram
	paymentsSettled *prometheus.CounterVec
	loyaltyPoints   prometheus.Counter
	loyaltyRedeemed prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		reservations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rental_reservations_total",
				Help: "Reservation attempts by outcome",
			},
			[]string{"outcome"},
		),
		unlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rental_unlock_attempts_total",
				Help: "Unlock verifications by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		ridesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rental_rides_completed_total",
			Help: "Rides ended and priced",
		}),
		rideDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rental_ride_distance_km",
			Help:    "Distance of completed rides in kilometres",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50},
		}),
		paymentsSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rental_payments_settled_total",
				Help: "Payments moved out of pending, by method and final status",
			},
			[]string{"method", "status"},
		),
		loyaltyPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rental_loyalty_points_accrued_total",
			Help: "Loyalty points credited for completed rides",
		}),
		loyaltyRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rental_loyalty_points_redeemed_total",
			Help: "Loyalty points debited by redemptions",
		}),
	}
	reg.MustRegister(m.reservations, m.unlocks, m.ridesCompleted, m.rideDistance, m.paymentsSettled,
		m.loyaltyPoints, m.loyaltyRedeemed)
	return m
}

// outcome turns an error into a low-cardinality label.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
