package models

import (
	"log"

	"github.com/adrata/crm_backend/config"
)

func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&Company{},
		&BuyerGroup{},
		&BuyerGroupMember{},
		&DiscoveryJobRecord{},
	)
	if err != nil {
		log.Printf("auto migrate failed: %v", err)
	}
}
