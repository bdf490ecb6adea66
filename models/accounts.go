package models

type Accounts struct {
	Base         `gorm:"embedded"`
	Email        string    `gorm:"column:email;size:120;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null" json:"-"`
	ApiKeys      []ApiKeys `gorm:"foreignKey:AccountID" json:"-"`
}
