package models

import (
	"gorm.io/gorm"
)

// Location is a KKN placement post (posto) for one fiscal year, supervised by a DPL.
type Location struct {
	gorm.Model
	Name         string `json:"name"`
	Village      string `json:"village"`
	District     string `json:"district"`
	Regency      string `json:"regency"`
	FiscalYear   string `gorm:"index" json:"fiscal_year"`
	Quota        int    `json:"quota"`
	SupervisorID *uint  `json:"supervisor_id"`
	Supervisor   *User  `gorm:"foreignKey:SupervisorID" json:"supervisor,omitempty"`
}
