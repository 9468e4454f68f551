package ride

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Point is a position report from a bike during an active ride.
type Point struct {
	ID            int64     `db:"id" json:"-"`
	ReservationID uuid.UUID `db:"reservation_id" json:"reservationId"`
	Lat           float64   `db:"lat" json:"latitude"`
	Lng           float64   `db:"lng" json:"longitude"`
	RecordedAt    time.Time `db:"recorded_at" json:"recordedAt"`
}

// Summary is the frozen outcome of a finished ride.
type Summary struct {
	DistanceKM float64       `json:"distance"`
	CostCents  int64         `json:"cost"`
	Duration   time.Duration `json:"duration"`
}

const earthRadiusKM = 6371

// DistanceKM returns the great-circle distance between two coordinates.
func DistanceKM(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	calc := sinLat*sinLat + math.Cos(lat1Rad)*math.Cos(lat2Rad)*sinLng*sinLng
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(calc))
}

// PathKM sums the legs between successive points.
func PathKM(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += DistanceKM(points[i-1].Lat, points[i-1].Lng, points[i].Lat, points[i].Lng)
	}
	return total
}

// RoundKM rounds a distance to whole metres.
func RoundKM(km float64) float64 {
	return math.Round(km*1000) / 1000
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
