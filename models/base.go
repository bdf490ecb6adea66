package models

import (
	"time"
)

type Base struct {
	Id        uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at;<-:create;not null" json:"created_at"`
}
