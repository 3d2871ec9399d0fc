package models

import (
	"gorm.io/gorm"
)

const (
	RoleStudent  = "student"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

type User struct {
	gorm.Model
	SSOSubject    string `gorm:"uniqueIndex" json:"-"`
	Name          string `json:"name"`
	Email         string `gorm:"uniqueIndex" json:"email"`
	Phone         string `json:"phone"`
	StudentNumber string `gorm:"index" json:"student_number"`
	Role          string `gorm:"size:20;default:student" json:"role"`
}
