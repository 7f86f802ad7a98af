// model.go defines the persisted schema for the processing node's datastore.
package datastore

import "time"

// Detection is a single bird (or human) identification emitted by the
// detection pipeline. The column set and naming mirror the flat schema the
// node has always used, preserved across the SQLite/MySQL migration so a
// node upgraded in place keeps its detection history queryable.
type Detection struct {
	ID         uint   `gorm:"primaryKey"`
	Date       string `gorm:"index:idx_detections_date;index:idx_detections_date_time,priority:1"`
	Time       string `gorm:"index:idx_detections_date_time,priority:2"`
	Domain     string `gorm:"index:idx_detections_domain;size:50"`
	SciName    string `gorm:"index:idx_detections_sciname;size:200"`
	ComName    string `gorm:"index:idx_detections_comname;size:200"`
	Confidence float64
	Lat        float64
	Lon        float64
	Cutoff     float64
	Week       int
	Sens       float64
	Overlap    float64
	FileName   string `gorm:"size:512"`

	// SourceNode identifies which processing node produced this row.
	// Added after the original single-node schema; migrate adds the column
	// with a default for pre-existing databases instead of requiring a
	// destructive rebuild.
	SourceNode string `gorm:"column:source_node;size:100"`

	CreatedAt time.Time
}

// TableName pins the table name so renaming the Go type never migrates the
// schema underneath an existing database file.
func (Detection) TableName() string {
	return "detections"
}
