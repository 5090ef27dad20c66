// Package normalize maps raw spool samples onto the canonical record and
// workout shapes, computing content hashes along the way.
//
// Unit normalization must be deterministic: the canonical value participates
// in the content hash, so a source that reports miles one day and kilometres
// the next still dedupes to a single stored row.
package normalize

import (
	"strings"

	"github.com/aslobodnik/health-sync/internal/agent/source"
	"github.com/aslobodnik/health-sync/internal/domain"
)

// Duration multipliers to seconds, as reported by device exports.
var durationToSeconds = map[string]float64{
	"s":    1,
	"sec":  1,
	"min":  60,
	"hr":   3600,
	"hour": 3600,
}

// Distance multipliers to kilometres.
var distanceToKm = map[string]float64{
	"km": 1,
	"m":  0.001,
	"mi": 1.609344,
	"yd": 0.0009144,
}

// Energy multipliers to kilocalories.
var energyToKcal = map[string]float64{
	"kcal": 1,
	"Cal":  1,
	"cal":  0.001,
	"kJ":   0.239006,
}

// Body-mass multipliers to kilograms.
var massToKg = map[string]float64{
	"kg": 1,
	"g":  0.001,
	"lb": 0.45359237,
	"st": 6.35029318,
}

// Platform activity type identifiers mapped to canonical names. Anything not
// listed here (and not already canonical) does not sync.
var activityTypes = map[string]string{
	"HKWorkoutActivityTypeRunning":                     "running",
	"HKWorkoutActivityTypeWalking":                     "walking",
	"HKWorkoutActivityTypeCycling":                     "cycling",
	"HKWorkoutActivityTypeHiking":                      "hiking",
	"HKWorkoutActivityTypeSwimming":                    "swimming",
	"HKWorkoutActivityTypeRowing":                      "rowing",
	"HKWorkoutActivityTypeElliptical":                  "elliptical",
	"HKWorkoutActivityTypeYoga":                        "yoga",
	"HKWorkoutActivityTypeFunctionalStrengthTraining":  "strength-training",
	"HKWorkoutActivityTypeTraditionalStrengthTraining": "strength-training",
}

var canonicalActivityTypes = func() map[string]struct{} {
	out := make(map[string]struct{}, len(activityTypes))
	for _, name := range activityTypes {
		out[name] = struct{}{}
	}
	return out
}()

// Options configure filtering behaviour.
type Options struct {
	// CanonicalSources, when non-empty, restricts records to the named
	// source devices. Samples from other sources are dropped before they
	// can occupy a batch slot.
	CanonicalSources []string
}

// Normalizer converts raw samples into the canonical tagged variant.
type Normalizer struct {
	canonicalSources map[string]struct{}
}

// New constructs a Normalizer.
func New(opts Options) *Normalizer {
	n := &Normalizer{}
	if len(opts.CanonicalSources) > 0 {
		n.canonicalSources = make(map[string]struct{}, len(opts.CanonicalSources))
		for _, name := range opts.CanonicalSources {
			n.canonicalSources[name] = struct{}{}
		}
	}
	return n
}

// Normalize maps one raw sample. ok is false when the sample is filtered out
// and must not consume a batch slot.
func (n *Normalizer) Normalize(stream domain.Stream, raw source.RawSample) (domain.Sample, bool) {
	if n.canonicalSources != nil {
		if _, allowed := n.canonicalSources[raw.SourceName]; !allowed {
			return domain.Sample{}, false
		}
	}

	switch raw.Kind {
	case domain.KindWorkout:
		return n.normalizeWorkout(raw)
	default:
		return n.normalizeRecord(stream, raw)
	}
}

// NormalizeAll maps a fetched sequence, preserving order and skipping
// filtered samples.
func (n *Normalizer) NormalizeAll(stream domain.Stream, raws []source.RawSample) []domain.Sample {
	out := make([]domain.Sample, 0, len(raws))
	for _, raw := range raws {
		if sample, ok := n.Normalize(stream, raw); ok {
			out = append(out, sample)
		}
	}
	return out
}

func (n *Normalizer) normalizeRecord(stream domain.Stream, raw source.RawSample) (domain.Sample, bool) {
	if raw.StartTime.IsZero() {
		return domain.Sample{}, false
	}

	value := raw.ValueNumeric
	unit := raw.Unit
	switch stream {
	case domain.StreamDistance:
		value, unit = convert(value, unit, distanceToKm, "km")
	case domain.StreamActiveEnergy:
		value, unit = convert(value, unit, energyToKcal, "kcal")
	case domain.StreamBodyMass:
		value, unit = convert(value, unit, massToKg, "kg")
	}

	end := raw.EndTime
	if end.IsZero() {
		end = raw.StartTime
	}

	rec := &domain.CanonicalRecord{
		Stream:         stream,
		SourceName:     raw.SourceName,
		SourceVersion:  raw.SourceVersion,
		SourceBundleID: raw.SourceBundleID,
		Device:         raw.Device,
		Unit:           unit,
		ValueNumeric:   value,
		ValueText:      raw.ValueText,
		StartTime:      raw.StartTime.UTC(),
		EndTime:        end.UTC(),
		CreationTime:   raw.CreationTime,
		Metadata:       raw.Metadata,
	}
	rec.Hash = domain.RecordHash(rec.Stream, rec.SourceName, rec.StartTime, rec.EndTime, rec.ValueNumeric, rec.ValueText)
	return domain.RecordSample(rec), true
}

func (n *Normalizer) normalizeWorkout(raw source.RawSample) (domain.Sample, bool) {
	activity, ok := canonicalActivity(raw.ActivityType)
	if !ok {
		return domain.Sample{}, false
	}
	if raw.StartTime.IsZero() || raw.EndTime.IsZero() {
		return domain.Sample{}, false
	}

	duration := 0.0
	if raw.Duration != nil {
		duration = *raw.Duration
		if mult, known := durationToSeconds[raw.DurationUnit]; known {
			duration = *raw.Duration * mult
		}
	} else {
		duration = raw.EndTime.Sub(raw.StartTime).Seconds()
	}

	distance, _ := convert(raw.TotalDistance, raw.DistanceUnit, distanceToKm, "km")
	energy, _ := convert(raw.TotalEnergy, raw.EnergyUnit, energyToKcal, "kcal")

	w := &domain.CanonicalWorkout{
		ActivityType:    activity,
		SourceName:      raw.SourceName,
		SourceVersion:   raw.SourceVersion,
		SourceBundleID:  raw.SourceBundleID,
		Device:          raw.Device,
		StartTime:       raw.StartTime.UTC(),
		EndTime:         raw.EndTime.UTC(),
		DurationSeconds: duration,
		TotalDistanceKm: distance,
		TotalEnergyKcal: energy,
		AvgHeartRate:    raw.AvgHeartRate,
		MinHeartRate:    raw.MinHeartRate,
		MaxHeartRate:    raw.MaxHeartRate,
		Metadata:        raw.Metadata,
	}
	w.Hash = domain.WorkoutHash(w.ActivityType, w.SourceName, w.StartTime, w.EndTime, w.DurationSeconds)
	return domain.WorkoutSample(w), true
}

func canonicalActivity(raw string) (string, bool) {
	if name, ok := activityTypes[raw]; ok {
		return name, true
	}
	lowered := strings.ToLower(raw)
	if _, ok := canonicalActivityTypes[lowered]; ok {
		return lowered, true
	}
	return "", false
}

// convert scales a value into the class's canonical unit. Unknown units pass
// through untouched so the mapping stays deterministic for sources we have
// never seen.
func convert(value *float64, unit string, multipliers map[string]float64, canonical string) (*float64, string) {
	if value == nil {
		return nil, unit
	}
	mult, known := multipliers[unit]
	if !known {
		return value, unit
	}
	scaled := *value * mult
	return &scaled, canonical
}
