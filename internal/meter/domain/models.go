// Package domain contains meter definitions for the metering pipeline.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Aggregation string

const (
	AggregationSum  Aggregation = "sum"
	AggregationMax  Aggregation = "max"
	AggregationAvg  Aggregation = "avg"
	AggregationLast Aggregation = "last"
)

// Meter defines a usage measurement unit, including the validation bounds the
// metering pipeline checks on ingest.
type Meter struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;index:ux_meters_org_code,unique,priority:1"`
	Code        string       `json:"code" gorm:"type:text;not null;index:ux_meters_org_code,unique,priority:2"`
	Name        string       `json:"name" gorm:"type:text;not null"`
	Unit        string       `json:"unit" gorm:"type:text;not null"`
	Category    string       `json:"category" gorm:"type:text;not null"`
	Aggregation Aggregation  `json:"aggregation" gorm:"type:text;not null"`
	MinValue    *float64     `json:"min_value"`
	MaxValue    *float64     `json:"max_value"`
	MaxDelta    *float64     `json:"max_delta"`
	Active      bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Meter) TableName() string { return "meters" }
