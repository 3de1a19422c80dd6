package model

import "time"

// User is the minimal account record the pipeline needs: ownership for
// api keys, orders and telegram connections. Account management itself
// lives outside this service.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:60;uniqueIndex" json:"username"`
	Email     string    `gorm:"size:120" json:"email"`
	Admin     bool      `gorm:"not null;default:false" json:"admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
