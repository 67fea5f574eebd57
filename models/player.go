package models

import (
	"time"
)

// Player roles. REFEREE may record game scores; ADMIN manages tournaments;
// SUPER_ADMIN additionally manages admin accounts and roles.
const (
	RoleUser       = "USER"
	RoleReferee    = "REFEREE"
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPER_ADMIN"
)

// Player is created on first WeChat login (upsert by openid).
// RealName/IDCard/Phone are collected lazily when the player first registers
// for a tournament that requires them.
type Player struct {
	ID       string     `json:"id" gorm:"primaryKey"`
	OpenID   string     `json:"openid" gorm:"column:openid;uniqueIndex;not null"`
	Name     string     `json:"name"`
	Avatar   string     `json:"avatar"`
	Gender   string     `json:"gender,omitempty"`
	Birthday *time.Time `json:"birthday,omitempty"`
	Region   string     `json:"region,omitempty"`
	RealName string     `json:"real_name,omitempty"`
	IDCard   string     `json:"id_card,omitempty" gorm:"column:id_card;uniqueIndex:udx_players_id_card,where:id_card <> ''"`
	Phone    string     `json:"phone,omitempty"`
	Role     string     `json:"role" gorm:"default:'USER'"`
	Points   int        `json:"points" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// AdminUser is a backoffice account, separate from mini-program players.
type AdminUser struct {
	ID       string `json:"id" gorm:"primaryKey"`
	Username string `json:"username" gorm:"uniqueIndex;not null"`
	Password string `json:"-" gorm:"not null"` // bcrypt hash
	Role     string `json:"role" gorm:"default:'ADMIN'"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
