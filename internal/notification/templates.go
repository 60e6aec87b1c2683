package notification

import (
	"html/template"
	"strings"
)

const callbackRequestedTemplate = `<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>New callback request</h2>
  <p><strong>{{.VisitorName}}</strong> asked to be called back.</p>
  <table cellpadding="4">
    <tr><td>Phone</td><td>{{.VisitorPhone}}</td></tr>
    <tr><td>Request</td><td>{{.RequestID}}</td></tr>
  </table>
  {{if .OutsideHours}}
  <p>The request arrived outside business hours; the visitor's number was
  sent to you by SMS for a callback during opening hours.</p>
  {{else}}
  <p>We are calling you now to bridge the visitor.</p>
  {{end}}
</body>
</html>`

const callMissedTemplate = `<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>Missed callback</h2>
  <p>The call for <strong>{{.VisitorName}}</strong> did not connect
  ({{.Reason}}). The visitor's number was sent to you by SMS.</p>
  <table cellpadding="4">
    <tr><td>Phone</td><td>{{.VisitorPhone}}</td></tr>
    <tr><td>Request</td><td>{{.RequestID}}</td></tr>
  </table>
</body>
</html>`

func renderEmailTemplate(name, tpl string, data CallbackEmailData) (string, error) {
	parsed, err := template.New(name).Parse(tpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := parsed.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
