package models

import (
	"time"

	"github.com/google/uuid"
)

// SaleLine records how many units one order line actually took from a record.
// Restocks for that order line never return more than Units.
type SaleLine struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	InventoryRecordID uuid.UUID `gorm:"column:inventory_record_id;type:uuid;not null;uniqueIndex:idx_sale_lines_record_order_line,priority:1"`
	OrderID           string    `gorm:"column:order_id;not null;uniqueIndex:idx_sale_lines_record_order_line,priority:2"`
	LineID            string    `gorm:"column:line_id;not null;default:'';uniqueIndex:idx_sale_lines_record_order_line,priority:3"`
	Units             int       `gorm:"column:units;not null;default:0"`
	RestoredUnits     int       `gorm:"column:restored_units;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
