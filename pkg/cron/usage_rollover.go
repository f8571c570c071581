package cron

import (
	"log"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"appraisalstudio_backend/internal/model"
)

// InitUsageRolloverCron resets free-tier usage counters on the first of each
// month. Paid accounts roll over when the subscription.updated event for the
// new billing period arrives; free accounts have no billing events, so the
// calendar month is their period.
func InitUsageRolloverCron(db *gorm.DB) {
	c := cron.New()

	_, err := c.AddFunc("0 0 1 * *", func() {
		rolloverFreeUsage(db)
	})
	if err != nil {
		log.Printf("Could not initialize usage rollover cron: %v", err)
		return
	}

	c.Start()
}

func rolloverFreeUsage(db *gorm.DB) {
	log.Println("Rolling over free-tier usage counters...")

	res := db.Model(&model.User{}).
		Where("plan = ? AND usage_count > 0", model.PlanFree).
		UpdateColumn("usage_count", 0)
	if res.Error != nil {
		log.Printf("Error resetting free-tier usage: %v", res.Error)
		return
	}

	log.Printf("Reset usage for %d free-tier accounts", res.RowsAffected)
}
