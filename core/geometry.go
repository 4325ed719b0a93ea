package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/shadowcast/model"
)

// EarthRadiusM is the mean Earth radius used by the spherical
// point translation (metres).
const EarthRadiusM = 6371000.0

// WGS84 ellipsoid parameters.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
	wgs84B = wgs84A * (1 - wgs84F)
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// BorderLength returns the geodesic distance in metres between two WGS84
// points on the ellipsoid (Vincenty inverse). Nearly antipodal pairs where
// the iteration does not converge fall back to the great-circle distance
// on the mean sphere, which can be off by up to about 0.5%.
func BorderLength(p1, p2 model.GeoPoint) float64 {
	if p1 == p2 {
		return 0
	}

	L := (p2.Lon - p1.Lon) * deg2rad
	u1 := math.Atan((1 - wgs84F) * math.Tan(p1.Lat*deg2rad))
	u2 := math.Atan((1 - wgs84F) * math.Tan(p2.Lat*deg2rad))
	sinU1, cosU1 := math.Sincos(u1)
	sinU2, cosU2 := math.Sincos(u2)

	lambda := L
	var (
		sinSigma, cosSigma, sigma float64
		cosSqAlpha, cos2SigmaM    float64
		converged                 bool
	)
	for i := 0; i < 200; i++ {
		sinLambda, cosLambda := math.Sincos(lambda)
		a := cosU2 * sinLambda
		b := cosU1*sinU2 - sinU1*cosU2*cosLambda
		sinSigma = math.Sqrt(a*a + b*b)
		if sinSigma == 0 {
			return 0
		}
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)
		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cosSqAlpha = 1 - sinAlpha*sinAlpha
		if cosSqAlpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cosSqAlpha
		} else {
			// both points on the equator
			cos2SigmaM = 0
		}
		c := wgs84F / 16 * cosSqAlpha * (4 + wgs84F*(4-3*cosSqAlpha))
		prev := lambda
		lambda = L + (1-c)*wgs84F*sinAlpha*
			(sigma+c*sinSigma*(cos2SigmaM+c*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		if math.Abs(lambda-prev) < 1e-12 {
			converged = true
			break
		}
	}
	if !converged {
		return greatCircleDistance(p1, p2)
	}

	uSq := cosSqAlpha * (wgs84A*wgs84A - wgs84B*wgs84B) / (wgs84B * wgs84B)
	A := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
	B := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
	deltaSigma := B * sinSigma * (cos2SigmaM + B/4*(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
		B/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))

	return math.Abs(wgs84B * A * (sigma - deltaSigma))
}

func greatCircleDistance(p1, p2 model.GeoPoint) float64 {
	lat1, lat2 := p1.Lat*deg2rad, p2.Lat*deg2rad
	dLat := lat2 - lat1
	dLon := (p2.Lon - p1.Lon) * deg2rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// TranslatePoint moves a point by distance metres along the great circle
// leaving it at bearing degrees (0 = north, clockwise). A zero distance
// returns the start point unchanged.
func TranslatePoint(lat, lon, distance, bearing float64) (float64, float64) {
	if distance == 0 {
		return lat, lon
	}

	phi1 := lat * deg2rad
	lambda1 := lon * deg2rad
	theta := bearing * deg2rad
	delta := distance / EarthRadiusM

	sinPhi1, cosPhi1 := math.Sincos(phi1)
	sinDelta, cosDelta := math.Sincos(delta)

	sinPhi2 := sinPhi1*cosDelta + cosPhi1*sinDelta*math.Cos(theta)
	phi2 := math.Asin(math.Max(-1, math.Min(1, sinPhi2)))
	lambda2 := lambda1 + math.Atan2(math.Sin(theta)*sinDelta*cosPhi1, cosDelta-sinPhi1*sinPhi2)

	return phi2 * rad2deg, normalizeLon(lambda2 * rad2deg)
}

// TranslatePoints applies TranslatePoint elementwise.
func TranslatePoints(lats, lons, distances, bearings []float64) ([]float64, []float64, error) {
	n := len(lats)
	if len(lons) != n || len(distances) != n || len(bearings) != n {
		return nil, nil, fmt.Errorf("%w: lats=%d lons=%d distances=%d bearings=%d",
			ErrLengthMismatch, len(lats), len(lons), len(distances), len(bearings))
	}
	outLat := make([]float64, n)
	outLon := make([]float64, n)
	for i := range lats {
		outLat[i], outLon[i] = TranslatePoint(lats[i], lons[i], distances[i], bearings[i])
	}
	return outLat, outLon, nil
}

func normalizeLon(lon float64) float64 {
	if lon >= -180 && lon < 180 {
		return lon
	}
	return math.Mod(math.Mod(lon+180, 360)+360, 360) - 180
}

// BorderLengths are the four edges of a target polygon in metres.
type BorderLengths struct {
	North float64
	East  float64
	South float64
	West  float64
}

// TerraceBorders measures the edges NW→NE, NE→SE, SE→SW and SW→NW.
func TerraceBorders(t model.TargetPolygon) BorderLengths {
	return BorderLengths{
		North: BorderLength(t.NW, t.NE),
		East:  BorderLength(t.NE, t.SE),
		South: BorderLength(t.SE, t.SW),
		West:  BorderLength(t.SW, t.NW),
	}
}

// DescribeTerrace renders the border lengths for humans.
func DescribeTerrace(t model.TargetPolygon) string {
	b := TerraceBorders(t)
	return fmt.Sprintf("Terrace border lengths:\n"+
		"  North border: %.2f m\n"+
		"  East border:  %.2f m\n"+
		"  South border: %.2f m\n"+
		"  West border:  %.2f m",
		b.North, b.East, b.South, b.West)
}
