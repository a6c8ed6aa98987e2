package db

// Config is the key/value table holding the persisted client state.
type Config struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     string `gorm:"column:value;not null;default:''"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (Config) TableName() string { return "config" }
