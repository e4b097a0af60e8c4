package httpapi

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"salonpos/backend/internal/domain"
)

func financialReportToCSV(report domain.FinancialReport) string {
	lines := []string{
		"section,key,value",
		fmt.Sprintf("summary,date,%s", report.Date),
		fmt.Sprintf("summary,sales,%d", report.Sales),
		fmt.Sprintf("summary,completed_appointments,%d", report.CompletedAppointments),
		fmt.Sprintf("summary,product_revenue,%s", report.ProductRevenue.StringFixed(2)),
		fmt.Sprintf("summary,product_cost,%s", report.ProductCost.StringFixed(2)),
		fmt.Sprintf("summary,product_profit,%s", report.ProductProfit.StringFixed(2)),
		fmt.Sprintf("summary,service_revenue,%s", report.ServiceRevenue.StringFixed(2)),
		fmt.Sprintf("summary,service_billed,%s", report.ServiceBilled.StringFixed(2)),
		fmt.Sprintf("summary,discounts_granted,%s", report.DiscountsGranted.StringFixed(2)),
		fmt.Sprintf("summary,total_revenue,%s", report.TotalRevenue.StringFixed(2)),
	}
	for _, line := range report.ByPaymentMethod {
		lines = append(lines, fmt.Sprintf("payment,%s_product_revenue,%s", line.PaymentMethodID, line.ProductRevenue.StringFixed(2)))
		lines = append(lines, fmt.Sprintf("payment,%s_service_revenue,%s", line.PaymentMethodID, line.ServiceRevenue.StringFixed(2)))
	}
	return strings.Join(lines, "\n") + "\n"
}

// html/template escapes every field, including payment method ids.
var financialReportHTMLTmpl = template.Must(template.New("financial-report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Financial Report {{.Date}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Financial Report {{.Date}}</h2>
  <p>Sales: {{.Sales}} | Completed appointments: {{.CompletedAppointments}}</p>
  <p>Products: revenue {{.ProductRevenue.StringFixed 2}} | cost {{.ProductCost.StringFixed 2}} | profit {{.ProductProfit.StringFixed 2}}</p>
  <p>Services: billed {{.ServiceBilled.StringFixed 2}} | discounts {{.DiscountsGranted.StringFixed 2}} | revenue {{.ServiceRevenue.StringFixed 2}}</p>
  <p><strong>Total revenue: {{.TotalRevenue.StringFixed 2}}</strong></p>

  <h3>By Payment Method</h3>
  <table>
    <thead><tr><th>Payment</th><th>Products</th><th>Services</th></tr></thead>
    <tbody>{{range .ByPaymentMethod}}<tr><td>{{.PaymentMethodID}}</td><td style="text-align:right;">{{.ProductRevenue.StringFixed 2}}</td><td style="text-align:right;">{{.ServiceRevenue.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func financialReportToPrintableHTML(report domain.FinancialReport) string {
	var buf bytes.Buffer
	if err := financialReportHTMLTmpl.Execute(&buf, report); err != nil {
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}
