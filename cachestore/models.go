package cachestore

import "time"

type datasetRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Key       string `gorm:"column:cache_key;uniqueIndex;not null"`
	Columns   string `gorm:"not null"`
	Rows      int64  `gorm:"column:row_count;not null;default:0"`
	Sealed    bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	SealedAt  *time.Time
}

func (datasetRecord) TableName() string { return "cached_datasets" }

type rowRecord struct {
	DatasetID string `gorm:"primaryKey;size:36"`
	Seq       int64  `gorm:"primaryKey;autoIncrement:false"`
	Values    string `gorm:"not null"`
}

func (rowRecord) TableName() string { return "cached_rows" }
