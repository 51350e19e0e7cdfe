package app

const subjectTemplates = `
{{define "premium_activated"}}Your {{.AppName}} Premium is active{{end}}
{{define "payment_receipt"}}{{.AppName}} payment receipt{{if .InvoiceRef}} {{.InvoiceRef}}{{end}}{{end}}
{{define "payment_failed"}}Action needed: your {{.AppName}} payment failed{{end}}
{{define "subscription_canceled"}}Your {{.AppName}} Premium subscription was canceled{{end}}
{{define "purchase_receipt"}}{{.AppName}} purchase receipt{{end}}
`

const textTemplates = `
{{define "premium_activated"}}
Hi,

Your {{.AppName}} Premium membership is now active.
{{if .Amount}}Amount paid: {{amount .Amount .Currency}}
{{end}}{{if .NextChargeDate}}Next charge: {{date .NextChargeDate}}
{{end}}{{if .ExpiresAt}}Premium until: {{date .ExpiresAt}}
{{end}}
Thanks,
The {{.AppName}} Team
{{end}}

{{define "payment_receipt"}}
Hi,

We received your payment of {{amount .Amount .Currency}}.
{{if .InvoiceRef}}Invoice: {{.InvoiceRef}}
{{end}}{{if .NextChargeDate}}Next charge: {{date .NextChargeDate}}
{{end}}{{if .InvoiceURL}}View invoice: {{.InvoiceURL}}
{{end}}
Thanks,
The {{.AppName}} Team
{{end}}

{{define "payment_failed"}}
Hi,

We could not collect your {{.AppName}} Premium payment{{if .InvoiceRef}} for invoice {{.InvoiceRef}}{{end}}.
Please update your payment method to keep Premium active.
{{if .InvoiceURL}}Pay now: {{.InvoiceURL}}
{{end}}
Thanks,
The {{.AppName}} Team
{{end}}

{{define "subscription_canceled"}}
Hi,

Your {{.AppName}} Premium subscription has been canceled. You can subscribe again at any time.

Thanks,
The {{.AppName}} Team
{{end}}

{{define "purchase_receipt"}}
Hi,

Thanks for your purchase{{if .Amount}} of {{amount .Amount .Currency}}{{end}}.
{{if .Reference}}Reference: {{.Reference}}
{{end}}
Thanks,
The {{.AppName}} Team
{{end}}
`

const htmlLayout = `
{{define "layout_start"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .content { background: #f9f9f9; padding: 30px; border-radius: 8px; }
        .button { display: inline-block; background: #007bff; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; margin: 20px 0; }
        .footer { text-align: center; padding: 20px; color: #666; font-size: 14px; }
    </style>
</head>
<body>
<div class="container">
    <h1 style="text-align: center;">{{.AppName}}</h1>
    <div class="content">{{end}}
{{define "layout_end"}}
    </div>
    <div class="footer"><p>The {{.AppName}} Team</p></div>
</div>
</body>
</html>{{end}}
`

const htmlTemplates = `
{{define "premium_activated"}}{{template "layout_start" .}}
        <h2>Premium is active</h2>
        <p>Your {{.AppName}} Premium membership is now active.</p>
        {{if .Amount}}<p>Amount paid: <strong>{{amount .Amount .Currency}}</strong></p>{{end}}
        {{if .NextChargeDate}}<p>Next charge: {{date .NextChargeDate}}</p>{{end}}
        {{if .ExpiresAt}}<p>Premium until: {{date .ExpiresAt}}</p>{{end}}
{{template "layout_end" .}}{{end}}

{{define "payment_receipt"}}{{template "layout_start" .}}
        <h2>Payment received</h2>
        <p>We received your payment of <strong>{{amount .Amount .Currency}}</strong>.</p>
        {{if .InvoiceRef}}<p>Invoice: {{.InvoiceRef}}</p>{{end}}
        {{if .NextChargeDate}}<p>Next charge: {{date .NextChargeDate}}</p>{{end}}
        {{if .InvoiceURL}}<p style="text-align: center;"><a href="{{.InvoiceURL}}" class="button">View invoice</a></p>{{end}}
{{template "layout_end" .}}{{end}}

{{define "payment_failed"}}{{template "layout_start" .}}
        <h2>Payment failed</h2>
        <p>We could not collect your {{.AppName}} Premium payment{{if .InvoiceRef}} for invoice {{.InvoiceRef}}{{end}}.</p>
        <p>Please update your payment method to keep Premium active.</p>
        {{if .InvoiceURL}}<p style="text-align: center;"><a href="{{.InvoiceURL}}" class="button">Pay now</a></p>{{end}}
{{template "layout_end" .}}{{end}}

{{define "subscription_canceled"}}{{template "layout_start" .}}
        <h2>Subscription canceled</h2>
        <p>Your {{.AppName}} Premium subscription has been canceled. You can subscribe again at any time.</p>
{{template "layout_end" .}}{{end}}

{{define "purchase_receipt"}}{{template "layout_start" .}}
        <h2>Thanks for your purchase</h2>
        {{if .Amount}}<p>Amount: <strong>{{amount .Amount .Currency}}</strong></p>{{end}}
        {{if .Reference}}<p>Reference: {{.Reference}}</p>{{end}}
{{template "layout_end" .}}{{end}}
`
