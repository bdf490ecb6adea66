package models

// ApiKeys are never deleted; revocation flips IsActive so that historical
// email logs stay attributable to the key that sent them.
type ApiKeys struct {
	Base      `gorm:"embedded"`
	Token     string `gorm:"column:token;<-:create;size:64;uniqueIndex;not null" json:"-"`
	Name      string `gorm:"column:name;size:100;not null" json:"name"`
	AccountID uint   `gorm:"column:account_id;<-:create;index;not null" json:"account_id"`
	IsActive  bool   `gorm:"column:is_active;index;not null" json:"is_active"`
}
