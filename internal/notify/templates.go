package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"github.com/darktidesresearch/storefront/internal/orders"
)

var funcs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
	"line":  func(it orders.OrderItem) string { return "$" + it.LineTotal().StringFixed(2) },
}

var templates = template.Must(template.New("mail").Funcs(funcs).Parse(`
{{define "items"}}
<table cellpadding="6" style="border-collapse:collapse">
  <tr><th align="left">Item</th><th>Qty</th><th align="right">Price</th></tr>
  {{range .Items}}<tr><td>{{.Name}} <small>({{.SKU}})</small></td><td align="center">{{.Quantity}}</td><td align="right">{{line .}}</td></tr>{{end}}
  <tr><td colspan="2">Subtotal</td><td align="right">{{money .Totals.Subtotal}}</td></tr>
  <tr><td colspan="2">Shipping</td><td align="right">{{money .Totals.ShippingCost}}</td></tr>
  {{if .Totals.DiscountCode}}<tr><td colspan="2">Discount ({{.Totals.DiscountCode}})</td><td align="right">-{{money .Totals.DiscountAmount}}</td></tr>{{end}}
  <tr><td colspan="2"><b>Total</b></td><td align="right"><b>{{money .Totals.Total}}</b></td></tr>
</table>
{{end}}

{{define "order_placed"}}
<p>Hi {{.Customer.FirstName}},</p>
<p>Thanks for your order <b>{{.OrderNumber}}</b>.</p>
{{template "items" .}}
{{if eq .PaymentMethod "venmo"}}
<p>To complete payment, send <b>{{money .Totals.Total}}</b> on Venmo to <b>{{.VenmoHandle}}</b>
with <b>{{.OrderNumber}}</b> as the memo. We ship once the payment is confirmed.</p>
{{else}}
<p>We will email you again as soon as your crypto payment is confirmed.</p>
{{end}}
<p>DarkTidesResearch</p>
{{end}}

{{define "order_placed_admin"}}
<p>New {{.PaymentMethod}} order <b>{{.OrderNumber}}</b> from {{.Customer.FirstName}} {{.Customer.LastName}} &lt;{{.Customer.Email}}&gt;.</p>
{{template "items" .}}
<p>Ship to:<br>{{.Customer.Address1}}{{if .Customer.Address2}}, {{.Customer.Address2}}{{end}}<br>
{{.Customer.City}}, {{.Customer.State}} {{.Customer.PostalCode}}<br>{{.Customer.Country}}</p>
{{if .Customer.Notes}}<p>Notes: {{.Customer.Notes}}</p>{{end}}
{{end}}

{{define "payment_confirmed"}}
<p>Hi {{.Customer.FirstName}},</p>
<p>Your crypto payment of <b>{{money .Total}}</b> for order <b>{{.OrderNumber}}</b> is confirmed.
{{if .Network}}Network: {{.Network}}.{{end}} We are preparing your shipment.</p>
<p>DarkTidesResearch</p>
{{end}}

{{define "contact"}}
<p>Contact form message from {{.Name}} &lt;{{.Email}}&gt;</p>
{{if .Subject}}<p>Subject: {{.Subject}}</p>{{end}}
<pre style="white-space:pre-wrap">{{.Message}}</pre>
{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
