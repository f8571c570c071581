// pkg/email/email.go
package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"time"
)

type EmailService struct {
	apiKey    string
	from      string
	templates *template.Template
}

type EmailData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Html    string `json:"html"`
}

type SubscriptionStartedData struct {
	CompanyName string
	PlanName    string
	Price       float64
	UsageLimit  int
	PeriodEnd   time.Time
}

type SubscriptionCanceledData struct {
	CompanyName string
	PlanName    string
}

type PaymentFailedData struct {
	CompanyName string
	FailedAt    time.Time
}

type CancellationReminderData struct {
	CompanyName string
	PlanName    string
	CancelAt    time.Time
	DaysLeft    int
}

func NewEmailService(apiKey string) (*EmailService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %v", err)
	}

	return &EmailService{
		apiKey:    apiKey,
		from:      "AppraisalStudio <noreply@appraisalstudio.com>",
		templates: templates,
	}, nil
}

func (s *EmailService) sendTemplateEmail(to, subject, templateName string, data interface{}) error {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("template execution error: %v", err)
	}

	emailData := EmailData{
		From:    s.from,
		To:      to,
		Subject: subject,
		Html:    body.String(),
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("error marshaling email data: %v", err)
	}

	req, err := http.NewRequest("POST", "https://api.resend.com/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending email: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Printf("Resend API error: Status: %d, Body: %s", resp.StatusCode, string(respBody))
		return fmt.Errorf("resend API error: %s", string(respBody))
	}

	return nil
}

func (s *EmailService) SendSubscriptionStartedEmail(
	email, companyName, planName string,
	price float64,
	usageLimit int,
	periodEnd time.Time,
) error {
	data := SubscriptionStartedData{
		CompanyName: companyName,
		PlanName:    planName,
		Price:       price,
		UsageLimit:  usageLimit,
		PeriodEnd:   periodEnd,
	}
	return s.sendTemplateEmail(email, "Welcome to AppraisalStudio "+planName+"! 🎉", "subscription_started.html", data)
}

func (s *EmailService) SendSubscriptionCanceledEmail(email, companyName, planName string) error {
	data := SubscriptionCanceledData{
		CompanyName: companyName,
		PlanName:    planName,
	}
	return s.sendTemplateEmail(email, "Your Subscription Has Been Canceled", "subscription_canceled.html", data)
}

func (s *EmailService) SendPaymentFailedEmail(email, companyName string, failedAt time.Time) error {
	data := PaymentFailedData{
		CompanyName: companyName,
		FailedAt:    failedAt,
	}
	return s.sendTemplateEmail(email, "Payment Failed — Action Required ⚠️", "payment_failed.html", data)
}

func (s *EmailService) SendCancellationReminderEmail(
	email, companyName, planName string,
	cancelAt time.Time,
	daysLeft int,
) error {
	data := CancellationReminderData{
		CompanyName: companyName,
		PlanName:    planName,
		CancelAt:    cancelAt,
		DaysLeft:    daysLeft,
	}
	return s.sendTemplateEmail(
		email,
		fmt.Sprintf("Your Plan Ends in %d Days ⚠️", daysLeft),
		"cancellation_reminder.html",
		data,
	)
}
