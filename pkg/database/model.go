package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// SeedOrigin tells who produced a seed bundle.
type SeedOrigin string

const (
	OriginFuzzer SeedOrigin = "statefuzz"
	OriginImport SeedOrigin = "import"
	OriginManual SeedOrigin = "manual"
)

// Seed is one tar.gz bundle of inputs for a target, stored in public.seeds.
type Seed struct {
	ID        int        `gorm:"primaryKey;column:id"`
	RunID     string     `gorm:"column:run_id;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;default:now()"`
	Path      string     `gorm:"column:path"`
	Target    string     `gorm:"column:target;index"`
	State     string     `gorm:"column:state"`
	Origin    SeedOrigin `gorm:"column:origin"`
	Count     int        `gorm:"column:count"`
	Coverage  float64    `gorm:"column:coverage"`
	Metric    Metric     `gorm:"column:metric;type:jsonb"`
}

// Crash is a deduplicated crashing input, stored in public.crashes.
type Crash struct {
	ID        int       `gorm:"primaryKey;column:id"`
	RunID     string    `gorm:"column:run_id;not null"`
	CreatedAt time.Time `gorm:"column:created_at;default:now()"`
	Target    string    `gorm:"column:target;not null"`
	State     string    `gorm:"column:state;not null"`
	Outcome   string    `gorm:"column:outcome;not null"`
	Signature string    `gorm:"column:signature;index"`
	Path      string    `gorm:"column:path;not null"`
	Exec      uint64    `gorm:"column:exec"`
}

// Metric represents the jsonb field in the seeds table
type Metric map[string]any

// Value implements the driver.Valuer interface for the Metric type
func (m Metric) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for the Metric type
func (m *Metric) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, &m)
}
