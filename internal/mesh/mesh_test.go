package mesh_test

// Covers: priority classification boundaries, the Queen aggregation
// quorum (>=2 distinct Drones above 0.6 risk; §8 scenario 5's witness
// escalation), Drone routing (direct vs. relay), and the Haversine
// death-vector derivation.

import (
	"testing"
	"time"

	"github.com/emberwatch/emberwatch/internal/mesh"
)

func TestClassifyPriority_P1Critical(t *testing.T) {
	if mesh.ClassifyPriority(0.9, 0.9, 1, 100, false) != mesh.PriorityP1 {
		t.Fatalf("expected P1 for risk>0.8, confidence>0.8, witnesses>=1")
	}
	if mesh.ClassifyPriority(0.9, 0.9, 0, 100, false) == mesh.PriorityP1 {
		t.Fatalf("expected no P1 without at least one witness")
	}
}

func TestClassifyPriority_P3Maintenance(t *testing.T) {
	if mesh.ClassifyPriority(0.1, 0.5, 0, 15, false) != mesh.PriorityP3 {
		t.Fatalf("expected P3 for low battery")
	}
}

func TestAggregator_EscalatesOnThreeDroneQuorum(t *testing.T) {
	agg := mesh.NewAggregator(mesh.DefaultAggregatorConfig())
	now := time.Now()
	agg.Record("drone-1", 0.75, now)
	agg.Record("drone-2", 0.80, now.Add(10*time.Second))
	agg.Record("drone-3", 0.78, now.Add(20*time.Second))

	alert, ok := agg.Evaluate(now.Add(30*time.Second), "agg-1")
	if !ok {
		t.Fatalf("expected aggregation quorum to be met")
	}
	if !alert.Escalated || alert.Priority != mesh.PriorityP1 || alert.Channel != mesh.ChannelSatellite {
		t.Fatalf("expected escalated P1 satellite alert, got %+v", alert)
	}
	if len(alert.SourceDrones) != 3 {
		t.Fatalf("expected 3 source drones, got %d", len(alert.SourceDrones))
	}
}

func TestAggregator_NoQuorumBelowThreshold(t *testing.T) {
	agg := mesh.NewAggregator(mesh.DefaultAggregatorConfig())
	now := time.Now()
	agg.Record("drone-1", 0.75, now)
	if _, ok := agg.Evaluate(now, "agg-1"); ok {
		t.Fatalf("expected no quorum with a single reporting drone")
	}
}

func TestAggregator_PruneDropsStaleEntries(t *testing.T) {
	cfg := mesh.DefaultAggregatorConfig()
	cfg.Window = time.Minute
	agg := mesh.NewAggregator(cfg)
	now := time.Now()
	agg.Record("drone-1", 0.9, now)
	agg.Record("drone-2", 0.9, now)
	if _, ok := agg.Evaluate(now.Add(2*time.Minute), "agg-1"); ok {
		t.Fatalf("expected stale entries outside the window to be pruned")
	}
}

func TestDroneRouter_DirectWhenInRange(t *testing.T) {
	r := &mesh.DroneRouter{LoRaRangeMeters: 2000}
	self := mesh.NodeIdentity{NodeID: "d1", Location: mesh.Location{Lat: 37.0, Lon: -122.0}}
	queen := mesh.NodeIdentity{NodeID: "q1", Location: mesh.Location{Lat: 37.001, Lon: -122.0}}
	hops, path := r.Route(self, queen, nil, nil)
	if hops != 1 || len(path) != 1 || path[0] != queen.NodeID {
		t.Fatalf("expected a one-hop direct route carrying the queen in relay_path, got hops=%d path=%v", hops, path)
	}
}

func TestDroneRouter_RelayWhenOutOfRange(t *testing.T) {
	r := &mesh.DroneRouter{LoRaRangeMeters: 1000}
	self := mesh.NodeIdentity{NodeID: "d1", Location: mesh.Location{Lat: 37.0, Lon: -122.0}}
	queen := mesh.NodeIdentity{NodeID: "q1", Location: mesh.Location{Lat: 37.01617, Lon: -122.0}}
	relayLoc := mesh.Location{Lat: 37.008085, Lon: -122.0}

	lookup := func(id string) (mesh.Location, bool, bool) {
		if id == "relay-1" {
			return relayLoc, true, true
		}
		return mesh.Location{}, false, false
	}

	hops, path := r.Route(self, queen, []string{"relay-1"}, lookup)
	if hops != 2 || len(path) != 2 || path[0] != "relay-1" {
		t.Fatalf("expected a 2-hop relay path, got hops=%d path=%v", hops, path)
	}
}

func TestDeathVectorOf_RequiresAtLeastTwoEvents(t *testing.T) {
	now := time.Now()
	if _, ok := mesh.DeathVectorOf([]mesh.DeathEvent{{NodeID: "d1", Timestamp: now}}); ok {
		t.Fatalf("expected no death vector from a single event")
	}

	events := []mesh.DeathEvent{
		{NodeID: "d1", Location: mesh.Location{Lat: 37.0, Lon: -122.0}, Timestamp: now},
		{NodeID: "d2", Location: mesh.Location{Lat: 37.01, Lon: -122.0}, Timestamp: now.Add(60 * time.Second)},
	}
	dv, ok := mesh.DeathVectorOf(events)
	if !ok {
		t.Fatalf("expected a death vector from two events")
	}
	if dv.Confidence != 0.4 {
		t.Fatalf("expected confidence = count/5 = 0.4, got %v", dv.Confidence)
	}
	if dv.SpeedMPS <= 0 {
		t.Fatalf("expected positive speed, got %v", dv.SpeedMPS)
	}
}

func TestInBurntArea_ExpiresAfterThirtyDays(t *testing.T) {
	now := time.Now()
	areas := []mesh.BurntArea{{Center: mesh.Location{Lat: 1, Lon: 1}, RadiusM: 1000, BurntAt: now.Add(-40 * 24 * time.Hour)}}
	if mesh.InBurntArea(mesh.Location{Lat: 1, Lon: 1}, areas, now) {
		t.Fatalf("expected a 40-day-old burnt area to have expired")
	}
}
