package query

import (
	"context"
	"sort"
	"time"

	"peripheral/internal/model"
	"peripheral/internal/store"
	"peripheral/internal/textnorm"
)

// SignalParams selects signals for a region.
type SignalParams struct {
	Region     string
	Hours      int
	SignalType string
}

// RegionSignals lists recent signals for a region.
type RegionSignals struct {
	Meta `json:"-"`

	Region     string             `json:"region"`
	Timeframe  string             `json:"timeframe"`
	SignalType string             `json:"signalType,omitempty"`
	Count      int                `json:"count"`
	Signals    []model.SignalView `json:"signals"`
	Breakdown  map[string]int     `json:"breakdown"`
}

func signalFilters(region string, w Window) []store.Filter {
	return append(windowFilters(model.SignalTimeColumn, w), store.Contains("target_region", region))
}

var signalOrder = []store.Order{{Column: model.SignalTimeColumn, Desc: true}, {Column: "id"}}

// MilitarySignals returns signals whose region contains the requested region,
// newest first. An unknown region yields an empty list.
func (e *Engine) MilitarySignals(ctx context.Context, p SignalParams) (*RegionSignals, error) {
	region, err := requireText("region", p.Region, 1, 200)
	if err != nil {
		return nil, err
	}
	w, err := e.window(p.Hours)
	if err != nil {
		return nil, err
	}
	signalType := textnorm.Clean(p.SignalType)

	filters := signalFilters(region, w)
	if signalType != "" {
		filters = append(filters, store.IEq("signal_type", signalType))
	}
	scan, err := store.Scan(ctx, e.gateway, store.Query{
		Collection: model.CollectionSignals,
		Filters:    filters,
		Order:      signalOrder,
		CountTotal: true,
	}, e.cfg.SignalScanLimit)
	if err != nil {
		return nil, err
	}
	signals, err := decodeRows[model.Signal](model.CollectionSignals, scan.Rows)
	if err != nil {
		return nil, err
	}
	sortSignals(signals)

	r := &RegionSignals{
		Region:     region,
		Timeframe:  timeframe(w),
		SignalType: signalType,
		Count:      len(signals),
		Signals:    make([]model.SignalView, 0, min(len(signals), signalsShown)),
		Breakdown:  make(map[string]int),
	}
	if len(signals) > 0 && signals[0].TargetRegion != "" {
		r.Region = signals[0].TargetRegion
	}
	for i, s := range signals {
		r.Breakdown[signalKind(s)]++
		if i < signalsShown {
			r.Signals = append(r.Signals, s.View())
		}
	}

	r.Meta = Meta{
		Window:      w,
		Collections: []string{model.CollectionSignals},
		Shown:       len(r.Signals),
		Total:       scan.Total,
		Truncated:   scan.Truncated || len(r.Signals) < len(signals),
	}
	switch {
	case scan.Truncated:
		r.Meta.Reason = "scan-limit"
	case r.Meta.Truncated:
		r.Meta.Reason = "display-limit"
	}
	return r, nil
}

// TimelineParams selects a signal timeline.
type TimelineParams struct {
	Region string
	Hours  int
}

// Timeline is an hourly, zero-filled grid of signal activity.
type Timeline struct {
	Meta `json:"-"`

	Region            string         `json:"region"`
	Timeframe         string         `json:"timeframe"`
	TotalSignals      int            `json:"totalSignals"`
	HoursWithActivity int            `json:"hoursWithActivity"`
	MaxSeverity       *float64       `json:"maxSeverity"`
	TypeTotals        map[string]int `json:"typeTotals"`
	WeaponTotals      map[string]int `json:"weaponTotals"`
	Peak              *Bucket        `json:"peak"`
	Buckets           []Bucket       `json:"buckets"`
}

// Bucket is one hour of the timeline, covering [Start, End). The final bucket
// also includes signals detected exactly at End.
type Bucket struct {
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Count       int            `json:"count"`
	MaxSeverity *float64       `json:"maxSeverity"`
	ByType      map[string]int `json:"byType,omitempty"`
	ByWeapon    map[string]int `json:"byWeapon,omitempty"`
}

// SignalTimeline buckets the region's signals into one-hour slots spanning
// [now-hours, now]. Every slot is emitted; severity aggregates by max.
func (e *Engine) SignalTimeline(ctx context.Context, p TimelineParams) (*Timeline, error) {
	region, err := requireText("region", p.Region, 1, 200)
	if err != nil {
		return nil, err
	}
	w, err := e.window(p.Hours)
	if err != nil {
		return nil, err
	}

	scan, err := store.Scan(ctx, e.gateway, store.Query{
		Collection: model.CollectionSignals,
		Select:     []string{"id", "signal_type", "alert_type", "weapon_type", "target_region", "severity", "created_at"},
		Filters:    signalFilters(region, w),
		Order:      signalOrder,
		CountTotal: true,
	}, e.cfg.TimelineScanLimit)
	if err != nil {
		return nil, err
	}
	signals, err := decodeRows[model.Signal](model.CollectionSignals, scan.Rows)
	if err != nil {
		return nil, err
	}
	sortSignals(signals)

	tl := &Timeline{
		Region:       region,
		Timeframe:    timeframe(w),
		TypeTotals:   make(map[string]int),
		WeaponTotals: make(map[string]int),
		Buckets:      make([]Bucket, w.Hours),
	}
	for k := range tl.Buckets {
		start := w.Since.Add(time.Duration(k) * time.Hour)
		tl.Buckets[k] = Bucket{Start: start, End: start.Add(time.Hour)}
	}
	if len(signals) > 0 && signals[0].TargetRegion != "" {
		tl.Region = signals[0].TargetRegion
	}

	for _, s := range signals {
		k, ok := bucketIndex(w, s.CreatedAt.Time)
		if !ok {
			continue
		}
		b := &tl.Buckets[k]
		kind := signalKind(s)

		b.Count++
		if b.ByType == nil {
			b.ByType = make(map[string]int)
		}
		b.ByType[kind]++
		tl.TypeTotals[kind]++
		if weapon := textnorm.Fold(s.WeaponType); weapon != "" {
			if b.ByWeapon == nil {
				b.ByWeapon = make(map[string]int)
			}
			b.ByWeapon[weapon]++
			tl.WeaponTotals[weapon]++
		}
		b.MaxSeverity = maxSeverity(b.MaxSeverity, s.Severity)
		tl.MaxSeverity = maxSeverity(tl.MaxSeverity, s.Severity)
		tl.TotalSignals++
	}

	for i := range tl.Buckets {
		b := tl.Buckets[i]
		if b.Count == 0 {
			continue
		}
		tl.HoursWithActivity++
		if tl.Peak == nil || b.Count > tl.Peak.Count {
			peak := b
			tl.Peak = &peak
		}
	}

	tl.Meta = Meta{
		Window:      w,
		Collections: []string{model.CollectionSignals},
		Shown:       tl.TotalSignals,
		Total:       scan.Total,
		Truncated:   scan.Truncated,
	}
	if scan.Truncated {
		tl.Meta.Reason = "scan-limit"
	}
	return tl, nil
}

// bucketIndex places t on the window's hourly grid.
func bucketIndex(w Window, t time.Time) (int, bool) {
	if t.Before(w.Since) || t.After(w.Until) {
		return 0, false
	}
	k := int(t.Sub(w.Since) / time.Hour)
	if k >= w.Hours {
		k = w.Hours - 1
	}
	return k, true
}

func maxSeverity(cur, v *float64) *float64 {
	if v == nil {
		return cur
	}
	if cur == nil || *v > *cur {
		x := *v
		return &x
	}
	return cur
}

func sortSignals(signals []model.Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if !a.CreatedAt.Equal(b.CreatedAt.Time) {
			return a.CreatedAt.After(b.CreatedAt.Time)
		}
		return a.ID.Less(b.ID)
	})
}
