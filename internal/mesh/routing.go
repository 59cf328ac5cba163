package mesh

import (
	"math"
	"math/rand"
	"time"
)

// ClassifyPriority implements the §4.9 node-source priority rule.
func ClassifyPriority(risk, confidence float64, witnesses uint, batteryPct float64, lowRiskHealthTicket bool) Priority {
	if risk > 0.80 && confidence > 0.80 && witnesses >= 1 {
		return PriorityP1
	}
	if risk > 0.60 && confidence > 0.60 {
		return PriorityP2
	}
	if batteryPct < 20 || lowRiskHealthTicket {
		return PriorityP3
	}
	return PriorityNone
}

// TransmitSatellite and TransmitLoRa are the narrow transmission interfaces
// external collaborators implement (§4.9); the core only calls them.
type TransmitSatellite func(Alert) bool
type TransmitLoRa func(Alert) bool

// Transmitter sends an Alert, preferring satellite for P1 and falling back
// to LoRa mesh on satellite failure, annotating the fallback (§4.9).
type Transmitter struct {
	Satellite TransmitSatellite
	LoRa      TransmitLoRa
}

// Send routes an Alert per role and priority (§4.9): a Drone never opens a
// satellite channel even for P1; a Queen uplinks P1 directly, gateways P2
// via LoRa, and logs P3 locally. Dying-gasp alerts always attempt satellite
// first regardless of role-imposed priority routing.
func (t *Transmitter) Send(self NodeIdentity, alert Alert) (sent bool, usedChannel Channel) {
	if alert.DyingGasp {
		if t.Satellite != nil && t.Satellite(alert) {
			return true, ChannelSatellite
		}
		alert.Fallback = string(ChannelLoRaMesh)
		if t.LoRa != nil && t.LoRa(alert) {
			return true, ChannelLoRaMesh
		}
		return false, ""
	}

	if self.Role == RoleDrone {
		// A Drone may only emit to its assigned Queen; never satellite (§4.9).
		if t.LoRa != nil && t.LoRa(alert) {
			return true, ChannelLoRaMesh
		}
		return false, ""
	}

	switch alert.Priority {
	case PriorityP1:
		if t.Satellite != nil && t.Satellite(alert) {
			return true, ChannelSatellite
		}
		alert.Fallback = string(ChannelLoRaMesh)
		if t.LoRa != nil && t.LoRa(alert) {
			return true, ChannelLoRaMesh
		}
		return false, ""
	case PriorityP2:
		if t.LoRa != nil && t.LoRa(alert) {
			return true, ChannelLoRaGateway
		}
		return false, ""
	default:
		return true, "" // P3: logged locally, no transmission.
	}
}

// DroneRouter selects a one-hop or relayed path for a Drone's outgoing
// message (§4.9).
type DroneRouter struct {
	LoRaRangeMeters float64
}

// NeighborLookup resolves a candidate relay's location and online status.
type NeighborLookup func(nodeID string) (loc Location, online bool, ok bool)

// Route implements the §4.9 Drone routing rule: direct if within LoRa
// range of the Queen, else a relay within range of both ends that is
// currently online, else fall back to direct for demo continuity.
func (r *DroneRouter) Route(self, queen NodeIdentity, candidates []string, lookup NeighborLookup) (hopCount int, relayPath []string) {
	if haversineMeters(self.Location, queen.Location) <= r.LoRaRangeMeters {
		return 1, []string{queen.NodeID}
	}
	for _, c := range candidates {
		loc, online, ok := lookup(c)
		if !ok || !online {
			continue
		}
		if haversineMeters(self.Location, loc) <= r.LoRaRangeMeters && haversineMeters(loc, queen.Location) <= r.LoRaRangeMeters {
			return 2, []string{c, queen.NodeID}
		}
	}
	// Fallback: assume direct for demo continuity (§4.9).
	return 1, []string{queen.NodeID}
}

// haversineMeters computes the great-circle distance between two points.
func haversineMeters(a, b Location) float64 {
	const earthRadiusM = 6371000.0
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// haversineBearingDeg computes the initial bearing from a to b, in degrees
// [0, 360), used by death-vector direction (§4.9).
func haversineBearingDeg(a, b Location) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	theta := math.Atan2(y, x)
	deg := theta*180/math.Pi + 360
	return math.Mod(deg, 360)
}

// DeathVectorOf implements the §4.9 death-vector derivation: direction is
// the Haversine bearing from the first to the latest death, speed is
// distance over elapsed time, confidence = min(1, count/5). Requires >= 2
// events; returns the zero value and false otherwise.
func DeathVectorOf(events []DeathEvent) (DeathVector, bool) {
	if len(events) < 2 {
		return DeathVector{}, false
	}
	first, last := events[0], events[len(events)-1]
	elapsed := last.Timestamp.Sub(first.Timestamp).Seconds()
	if elapsed <= 0 {
		return DeathVector{}, false
	}
	dist := haversineMeters(first.Location, last.Location)
	conf := float64(len(events)) / 5
	if conf > 1 {
		conf = 1
	}
	return DeathVector{
		DirectionDeg: haversineBearingDeg(first.Location, last.Location),
		SpeedMPS:     dist / elapsed,
		Confidence:   conf,
	}, true
}

// PredictFireSpread implements the §4.9 simple fire-spread prior:
// rate = 0.5*(1 + wind_speed/10)*(1 + sin(slope)*0.5), direction is the mean
// of wind direction and the latest death-vector direction.
func PredictFireSpread(windSpeedMPS, windDirDeg, slopeRad float64, dv DeathVector) FireSpreadPrediction {
	rate := 0.5 * (1 + windSpeedMPS/10) * (1 + math.Sin(slopeRad)*0.5)
	direction := meanAngleDeg(windDirDeg, dv.DirectionDeg)
	return FireSpreadPrediction{RateMPS: rate, DirectionDeg: direction}
}

func meanAngleDeg(a, b float64) float64 {
	ra, rb := a*math.Pi/180, b*math.Pi/180
	x := (math.Cos(ra) + math.Cos(rb)) / 2
	y := (math.Sin(ra) + math.Sin(rb)) / 2
	deg := math.Atan2(y, x)*180/math.Pi + 360
	return math.Mod(deg, 360)
}

// HeartbeatInterval returns the next heartbeat delay: base interval plus a
// uniform random jitter in [0, jitter] added on each tick (§4.9).
func HeartbeatInterval(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(jitter)+1))
}

// InBurntArea reports whether loc falls inside any BurntArea circle younger
// than 30 days as of now (§4.9).
func InBurntArea(loc Location, areas []BurntArea, now time.Time) bool {
	for _, a := range areas {
		if now.Sub(a.BurntAt) >= 30*24*time.Hour {
			continue
		}
		if haversineMeters(loc, a.Center) <= a.RadiusM {
			return true
		}
	}
	return false
}
