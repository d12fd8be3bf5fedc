package state

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// VehicleRecord is one stored counting event
type VehicleRecord struct {
	ID          int64
	Timestamp   time.Time
	VehicleType string
	VehicleID   *int64 // nullable track id
	LocationID  string
}

// TrafficSummary is the dashboard headline for one location
type TrafficSummary struct {
	TotalToday  int    `json:"total_today"`
	TotalWeek   int    `json:"total_week"`
	PeakHour    string `json:"peak_hour"`
	CurrentHour int    `json:"current_hour"`
}

// DailyCount is the number of vehicles on one day
type DailyCount struct {
	Date  string `json:"date"`
	Day   string `json:"day"`
	Count int    `json:"count"`
}

const dateLayout = "2006-01-02"

// InsertVehicle stores a record and returns its id
func (m *Manager) InsertVehicle(ctx context.Context, rec VehicleRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var vehicleID sql.NullInt64
	if rec.VehicleID != nil {
		vehicleID = sql.NullInt64{Int64: *rec.VehicleID, Valid: true}
	}

	query := `
		INSERT INTO vehicles (timestamp, vehicle_type, vehicle_id, location_id)
		VALUES (?, ?, ?, ?)
	`
	res, err := m.db.GetDB().ExecContext(ctx, query,
		rec.Timestamp.Local().Format(TimestampLayout),
		rec.VehicleType,
		vehicleID,
		rec.LocationID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert vehicle: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get vehicle id: %w", err)
	}
	return id, nil
}

// RecentVehicles returns the newest records for a location
func (m *Manager) RecentVehicles(ctx context.Context, locationID string, limit int) ([]VehicleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := m.db.GetDB().QueryContext(ctx, `
		SELECT id, timestamp, vehicle_type, vehicle_id, location_id
		FROM vehicles
		WHERE location_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, locationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var records []VehicleRecord
	for rows.Next() {
		var (
			rec       VehicleRecord
			ts        string
			vehicleID sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.VehicleType, &vehicleID, &rec.LocationID); err != nil {
			return nil, err
		}
		rec.Timestamp, err = time.ParseInLocation(TimestampLayout, ts, time.Local)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q in row %d: %w", ts, rec.ID, err)
		}
		if vehicleID.Valid {
			id := vehicleID.Int64
			rec.VehicleID = &id
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Summary returns today's and this week's totals, the busiest hour today
// and the count for the current hour
func (m *Manager) Summary(ctx context.Context, locationID string, now time.Time) (*TrafficSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	db := m.db.GetDB()
	now = now.Local()
	today := now.Format(dateLayout)
	// Weeks start on Monday
	weekday := (int(now.Weekday()) + 6) % 7
	weekStart := now.AddDate(0, 0, -weekday).Format(dateLayout)

	summary := &TrafficSummary{PeakHour: "00:00"}

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vehicles WHERE DATE(timestamp) = ? AND location_id = ?`,
		today, locationID,
	).Scan(&summary.TotalToday)
	if err != nil {
		return nil, fmt.Errorf("failed to count today: %w", err)
	}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vehicles WHERE DATE(timestamp) >= ? AND DATE(timestamp) <= ? AND location_id = ?`,
		weekStart, today, locationID,
	).Scan(&summary.TotalWeek)
	if err != nil {
		return nil, fmt.Errorf("failed to count week: %w", err)
	}

	var peak string
	var peakCount int
	err = db.QueryRowContext(ctx, `
		SELECT strftime('%H', timestamp) AS hour, COUNT(*) AS n FROM vehicles
		WHERE DATE(timestamp) = ? AND location_id = ?
		GROUP BY hour
		ORDER BY n DESC, hour ASC
		LIMIT 1
	`, today, locationID).Scan(&peak, &peakCount)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("failed to find peak hour: %w", err)
	default:
		if h, convErr := strconv.Atoi(peak); convErr == nil {
			summary.PeakHour = fmt.Sprintf("%02d:00", h)
		}
	}

	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vehicles
		WHERE strftime('%H', timestamp) = ? AND DATE(timestamp) = ? AND location_id = ?
	`, now.Format("15"), today, locationID).Scan(&summary.CurrentHour)
	if err != nil {
		return nil, fmt.Errorf("failed to count current hour: %w", err)
	}

	return summary, nil
}

// VehicleTypes returns per-class counts for the given day. Every class in
// classes is present in the result, with zero when nothing was counted.
func (m *Manager) VehicleTypes(ctx context.Context, locationID string, day time.Time, classes []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(classes))
	for _, c := range classes {
		counts[c] = 0
	}

	rows, err := m.db.GetDB().QueryContext(ctx, `
		SELECT vehicle_type, COUNT(*) FROM vehicles
		WHERE DATE(timestamp) = ? AND location_id = ?
		GROUP BY vehicle_type
	`, day.Local().Format(dateLayout), locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count vehicle types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var vehicleType string
		var n int
		if err := rows.Scan(&vehicleType, &n); err != nil {
			return nil, err
		}
		counts[vehicleType] = n
	}

	return counts, rows.Err()
}

// Hourly returns 24 buckets keyed "HH:00" for the given day
func (m *Manager) Hourly(ctx context.Context, locationID string, day time.Time) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buckets := make(map[string]int, 24)
	for h := 0; h < 24; h++ {
		buckets[fmt.Sprintf("%02d:00", h)] = 0
	}

	rows, err := m.db.GetDB().QueryContext(ctx, `
		SELECT strftime('%H', timestamp), COUNT(*) FROM vehicles
		WHERE DATE(timestamp) = ? AND location_id = ?
		GROUP BY strftime('%H', timestamp)
	`, day.Local().Format(dateLayout), locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count hourly: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hour string
		var n int
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, err
		}
		h, err := strconv.Atoi(hour)
		if err != nil {
			continue
		}
		buckets[fmt.Sprintf("%02d:00", h)] = n
	}

	return buckets, rows.Err()
}

// Daily returns the last seven days ending with now, oldest first
func (m *Manager) Daily(ctx context.Context, locationID string, now time.Time) ([]DailyCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now = now.Local()
	days := make([]DailyCount, 7)
	index := make(map[string]int, 7)
	for i := 0; i < 7; i++ {
		d := now.AddDate(0, 0, i-6)
		days[i] = DailyCount{Date: d.Format(dateLayout), Day: d.Format("Mon")}
		index[days[i].Date] = i
	}

	rows, err := m.db.GetDB().QueryContext(ctx, `
		SELECT DATE(timestamp), COUNT(*) FROM vehicles
		WHERE DATE(timestamp) >= ? AND DATE(timestamp) <= ? AND location_id = ?
		GROUP BY DATE(timestamp)
	`, days[0].Date, days[6].Date, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var date string
		var n int
		if err := rows.Scan(&date, &n); err != nil {
			return nil, err
		}
		if i, ok := index[date]; ok {
			days[i].Count = n
		}
	}

	return days, rows.Err()
}
