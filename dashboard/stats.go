// Package dashboard derives dashboard views from live seal, station and user
// snapshots. Nothing here is persisted.
package dashboard

import (
	"time"

	"sealtrack/models"
	"sealtrack/portal"
)

// TimelineDays is the number of daily buckets in a view.
const TimelineDays = 7

// recentLimit bounds the recent seal list in a view.
const recentLimit = 5

type SealStats struct {
	Total           int                       `json:"total"`
	ByStatus        map[models.SealStatus]int `json:"byStatus"`
	InUse           int                       `json:"inUse"`
	Unutilized      int                       `json:"unutilized"`
	UtilizationRate int                       `json:"utilizationRate"`
}

// Overview is the admin summary card row.
type Overview struct {
	TotalSeals     int `json:"totalSeals"`
	ActiveSeals    int `json:"activeSeals"`
	TotalStations  int `json:"totalStations"`
	ActiveStations int `json:"activeStations"`
	TotalUsers     int `json:"totalUsers"`
	DamagedSeals   int `json:"damagedSeals"`
	InTransitSeals int `json:"inTransitSeals"`
}

// StationCount is the live seal count for one station.
type StationCount struct {
	StationID string `json:"stationId"`
	Name      string `json:"name"`
	Active    int    `json:"active"`
	Total     int    `json:"total"`
}

// Bucket counts seals last updated on a day.
type Bucket struct {
	Date  time.Time `json:"date"`
	Label string    `json:"label"`
	Count int       `json:"count"`
}

// View is everything a portal dashboard renders.
type View struct {
	Portal      portal.Portal  `json:"portal"`
	Seals       SealStats      `json:"seals"`
	Overview    *Overview      `json:"overview,omitempty"`
	Stations    []StationCount `json:"stations"`
	Timeline    []Bucket       `json:"timeline"`
	Recent      []models.Seal  `json:"recent"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// ComputeSealStats counts seals by status and utilization.
func ComputeSealStats(seals []models.Seal) SealStats {
	stats := SealStats{
		Total:    len(seals),
		ByStatus: make(map[models.SealStatus]int, len(models.SealStatuses)),
	}
	for _, status := range models.SealStatuses {
		stats.ByStatus[status] = 0
	}
	for i := range seals {
		stats.ByStatus[seals[i].Status]++
		if seals[i].IsUnutilized {
			stats.Unutilized++
		} else {
			stats.InUse++
		}
	}
	if stats.Total > 0 {
		stats.UtilizationRate = (stats.InUse*100 + stats.Total/2) / stats.Total
	}
	return stats
}

// ComputeOverview builds the admin summary.
func ComputeOverview(seals []models.Seal, stations []models.Station, users []models.User) Overview {
	o := Overview{
		TotalSeals:    len(seals),
		TotalStations: len(stations),
		TotalUsers:    len(users),
	}
	for i := range seals {
		if !seals[i].IsUnutilized {
			o.ActiveSeals++
		}
		switch seals[i].Status {
		case models.SealDamaged:
			o.DamagedSeals++
		case models.SealInTransit:
			o.InTransitSeals++
		}
	}
	for i := range stations {
		if stations[i].Status == models.StationActive {
			o.ActiveStations++
		}
	}
	return o
}

// ComputeStationCounts derives per-station totals from the seals that reference
// the station; active counts the ones in use.
func ComputeStationCounts(seals []models.Seal, stations []models.Station) []StationCount {
	out := make([]StationCount, 0, len(stations))
	for _, st := range stations {
		c := StationCount{StationID: st.ID, Name: st.Name}
		for i := range seals {
			if !seals[i].AtStation(st.Name) {
				continue
			}
			c.Total++
			if !seals[i].IsUnutilized {
				c.Active++
			}
		}
		out = append(out, c)
	}
	return out
}

// ComputeTimeline returns days daily buckets ending today (UTC), oldest first,
// counting seals by lastUpdated.
func ComputeTimeline(seals []models.Seal, now time.Time, days int) []Bucket {
	today := now.UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))

	buckets := make([]Bucket, days)
	for i := range buckets {
		d := start.AddDate(0, 0, i)
		buckets[i] = Bucket{Date: d, Label: d.Format("Mon")}
	}
	for i := range seals {
		ts := seals[i].LastUpdated.UTC()
		if ts.Before(start) || !ts.Before(today.AddDate(0, 0, 1)) {
			continue
		}
		buckets[int(ts.Sub(start)/(24*time.Hour))].Count++
	}
	return buckets
}

// ScopeSeals keeps the seals visible to the session.
func ScopeSeals(seals []models.Seal, session *portal.Session) []models.Seal {
	if session.Global() {
		return seals
	}
	out := make([]models.Seal, 0, len(seals))
	for i := range seals {
		if session.InScope(&seals[i]) {
			out = append(out, seals[i])
		}
	}
	return out
}

// Compute builds the view for a session from full snapshots. Station portals
// see only their own station and seals; users feed the admin overview.
func Compute(session *portal.Session, seals []models.Seal, stations []models.Station, users []models.User, now time.Time) View {
	scoped := ScopeSeals(seals, session)

	visible := stations
	if !session.Global() {
		visible = make([]models.Station, 0, 1)
		for _, st := range stations {
			if st.ID == session.StationID || st.Name == session.StationName {
				visible = append(visible, st)
			}
		}
	}

	recent := scoped
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}

	v := View{
		Portal:      session.Portal,
		Seals:       ComputeSealStats(scoped),
		Stations:    ComputeStationCounts(scoped, visible),
		Timeline:    ComputeTimeline(scoped, now, TimelineDays),
		Recent:      recent,
		GeneratedAt: now.UTC(),
	}
	if session.Global() {
		o := ComputeOverview(seals, stations, users)
		v.Overview = &o
	}
	return v
}
