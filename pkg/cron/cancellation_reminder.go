package cron

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"appraisalstudio_backend/internal/model"
	"appraisalstudio_backend/pkg/email"
	"appraisalstudio_backend/pkg/entitlement"
)

// InitCancellationReminderCron emails accounts whose subscription is set to
// end within the next few days.
func InitCancellationReminderCron(db *gorm.DB, emails *email.EmailService) {
	if emails == nil {
		return
	}

	c := cron.New()

	_, err := c.AddFunc("0 9 * * *", func() {
		sendCancellationReminders(db, emails)
	})
	if err != nil {
		log.Printf("Could not initialize cancellation reminder cron: %v", err)
		return
	}

	c.Start()
}

func sendCancellationReminders(db *gorm.DB, emails *email.EmailService) {
	log.Println("Checking for ending subscriptions...")

	now := time.Now()
	cutoff := now.AddDate(0, 0, 3)

	var users []model.User
	err := db.Where("cancel_at_period_end = ? AND cancel_at IS NOT NULL AND cancel_at BETWEEN ? AND ?",
		true, now, cutoff).
		Find(&users).Error
	if err != nil {
		log.Printf("Error fetching ending subscriptions: %v", err)
		return
	}

	log.Printf("Found %d subscriptions ending within 3 days", len(users))

	for _, user := range users {
		daysLeft := int(user.CancelAt.Sub(now).Hours() / 24)
		label := entitlement.GetPlanLimits(user.Plan).Label

		if err := emails.SendCancellationReminderEmail(
			user.Email, user.CompanyName, label, *user.CancelAt, daysLeft,
		); err != nil {
			log.Printf("Error sending cancellation reminder to %s: %v", user.Email, err)
		}
	}
}
