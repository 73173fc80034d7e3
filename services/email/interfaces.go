package email

import "toybox-api/models"

type EmailSender interface {
	SendEmail(to, subject, body string) error
	SendOrderConfirmation(to, name string, order *models.Order) error
	SendLowStockAlert(to string, toys []models.Toy) error
}
