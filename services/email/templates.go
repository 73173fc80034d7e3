package email

import (
	"bytes"
	"fmt"
	"html/template"

	"toybox-api/models"
)

const orderConfirmationTemplate = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Order confirmed</title></head>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Thanks for your order, {{.Name}}!</h2>
  <p>We have received your payment for order <strong>{{.ShortID}}</strong>. Your toys will be on their way soon.</p>
  <table cellpadding="6" cellspacing="0" style="border-collapse: collapse; width: 100%;">
    <tr style="background: #f4f4f4;"><th align="left">Toy</th><th align="right">Qty</th><th align="right">Price</th></tr>
    {{range .Order.Items}}
    <tr><td>{{.Name}}</td><td align="right">{{.Quantity}}</td><td align="right">{{rupees .UnitPrice}}</td></tr>
    {{end}}
  </table>
  {{with .Order.Pricing}}
  <p>
    {{if gt .PlanPrice 0.0}}Plan: {{rupees .PlanPrice}} (incl. GST {{rupees .GST}})<br>{{end}}
    {{if .DepositIncluded}}Refundable deposit: {{rupees .Deposit}}<br>{{end}}
    <strong>Total paid: {{rupees .Total}}</strong>
  </p>
  {{end}}
  <p>Shipping to: {{.Order.ShippingAddress.FullName}}, {{.Order.ShippingAddress.Line1}}, {{.Order.ShippingAddress.City}} {{.Order.ShippingAddress.PostalCode}}</p>
</body>
</html>`

const lowStockTemplate = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Low stock</title></head>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Low stock alert</h2>
  <table cellpadding="6" cellspacing="0" style="border-collapse: collapse;">
    <tr style="background: #f4f4f4;"><th align="left">Toy</th><th align="left">Slug</th><th align="right">Stock</th></tr>
    {{range .}}
    <tr><td>{{.Name}}</td><td>{{.Slug}}</td><td align="right">{{.Stock}}</td></tr>
    {{end}}
  </table>
</body>
</html>`

var funcs = template.FuncMap{
	"rupees": func(v float64) string { return fmt.Sprintf("₹%.2f", v) },
}

var (
	orderConfirmation = template.Must(template.New("order").Funcs(funcs).Parse(orderConfirmationTemplate))
	lowStock          = template.Must(template.New("lowstock").Funcs(funcs).Parse(lowStockTemplate))
)

func RenderOrderConfirmation(name string, order *models.Order) (string, error) {
	if name == "" {
		name = "there"
	}
	var buf bytes.Buffer
	err := orderConfirmation.Execute(&buf, struct {
		Name    string
		ShortID string
		Order   *models.Order
	}{name, shortID(order.ID), order})
	if err != nil {
		return "", fmt.Errorf("error rendering order confirmation: %w", err)
	}
	return buf.String(), nil
}

func RenderLowStockAlert(toys []models.Toy) (string, error) {
	var buf bytes.Buffer
	if err := lowStock.Execute(&buf, toys); err != nil {
		return "", fmt.Errorf("error rendering low stock alert: %w", err)
	}
	return buf.String(), nil
}
