package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoRecords is returned when no record matches a query.
var ErrNoRecords = errors.New("no journal records found")

// Filter narrows queries. Empty fields match everything.
type Filter struct {
	InstanceID string
	Day        string
	Screen     string
}

// ScreenSummary aggregates the visits to one screen.
type ScreenSummary struct {
	Visits       int64            `json:"visits" yaml:"visits"`
	ByPhase      map[string]int64 `json:"by_phase" yaml:"by_phase"`
	AvgCampaigns float64          `json:"avg_campaigns" yaml:"avg_campaigns"`
}

// Summary aggregates visit records.
type Summary struct {
	Visits         int64                     `json:"visits" yaml:"visits"`
	ByPhase        map[string]int64          `json:"by_phase" yaml:"by_phase"`
	ByFetchOutcome map[string]int64          `json:"by_fetch_outcome" yaml:"by_fetch_outcome"`
	Screens        map[string]*ScreenSummary `json:"screens" yaml:"screens"`
	AvgDurationMs  float64                   `json:"avg_duration_ms" yaml:"avg_duration_ms"`
	Instances      []string                  `json:"instances" yaml:"instances"`
}

// Visits returns matching visit records, newest first. limit <= 0 means all.
func Visits(ctx context.Context, ds lode.Dataset, f Filter, limit int) ([]VisitRecord, error) {
	var out []VisitRecord
	err := scan(ctx, ds, RecordKindVisit, f, func(m map[string]any) bool {
		r := visitFromMap(m)
		if f.Screen != "" && !strings.EqualFold(r.Screen, f.Screen) {
			return true
		}
		out = append(out, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Summarize aggregates matching visit records.
func Summarize(ctx context.Context, ds lode.Dataset, f Filter) (*Summary, error) {
	visits, err := Visits(ctx, ds, f, 0)
	if err != nil {
		return nil, err
	}
	if len(visits) == 0 {
		return nil, ErrNoRecords
	}

	s := &Summary{
		ByPhase:        make(map[string]int64),
		ByFetchOutcome: make(map[string]int64),
		Screens:        make(map[string]*ScreenSummary),
	}
	instances := make(map[string]struct{})
	var totalDuration int64
	campaigns := make(map[string]int64)
	for _, v := range visits {
		s.Visits++
		s.ByPhase[v.Phase]++
		if v.FetchOutcome != "" {
			s.ByFetchOutcome[v.FetchOutcome]++
		}
		totalDuration += v.DurationMs
		instances[v.InstanceID] = struct{}{}

		ss, ok := s.Screens[v.Screen]
		if !ok {
			ss = &ScreenSummary{ByPhase: make(map[string]int64)}
			s.Screens[v.Screen] = ss
		}
		ss.Visits++
		ss.ByPhase[v.Phase]++
		campaigns[v.Screen] += int64(v.Campaigns)
	}
	for screen, ss := range s.Screens {
		ss.AvgCampaigns = float64(campaigns[screen]) / float64(ss.Visits)
	}
	s.AvgDurationMs = float64(totalDuration) / float64(s.Visits)
	for id := range instances {
		s.Instances = append(s.Instances, id)
	}
	sort.Strings(s.Instances)
	return s, nil
}

// LatestMetrics returns the most recent metrics record.
func LatestMetrics(ctx context.Context, ds lode.Dataset, instanceID string) (map[string]any, error) {
	var found map[string]any
	err := scan(ctx, ds, RecordKindMetrics, Filter{InstanceID: instanceID}, func(m map[string]any) bool {
		found = m
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNoRecords
	}
	return found, nil
}

// scan visits records of kind, newest snapshot first, until fn returns
// false. Manifest paths are a coarse pre-filter; record fields decide.
// Records seen in an earlier snapshot are skipped.
func scan(ctx context.Context, ds lode.Dataset, kind string, f Filter, fn func(map[string]any) bool) error {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		werr := wrapRead(err, string(ds.ID()))
		if errors.Is(werr, ErrNotFound) {
			// A dataset that was never written reads as empty.
			return nil
		}
		return werr
	}

	seen := make(map[string]struct{})
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, "record_kind", kind) ||
			!snapshotMatches(snap, "instance_id", f.InstanceID) ||
			!snapshotMatches(snap, "day", f.Day) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return wrapRead(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != kind {
				continue
			}
			if f.InstanceID != "" && toString(m["instance_id"]) != f.InstanceID {
				continue
			}
			if f.Day != "" && toString(m["day"]) != f.Day {
				continue
			}
			if id := toString(m["record_id"]); id != "" {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
			}
			if !fn(m) {
				return nil
			}
		}
	}
	return nil
}

func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue requires an exact key=value path segment so that
// instance_id=a does not match instance_id=ab.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
