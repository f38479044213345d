// pkg/lti/form.go
package lti

import (
	"html/template"
	"net/http"
	"net/url"
)

// WriteAutoPostForm renders a self-submitting HTML form POSTing fields to
// action. Used for the OIDC auth redirect and outbound LTI 1.0 launches,
// where the browser has to carry the signed payload to the other side.
func WriteAutoPostForm(w http.ResponseWriter, action string, fields url.Values) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	const tpl = `<!doctype html>
<html><head><meta charset="utf-8"><title>LTI Launch</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{- range $name, $vals := .Fields}}{{range $vals}}
  <input type="hidden" name="{{$name}}" value="{{.}}">
{{- end}}{{end}}
  <noscript><button type="submit">Continue</button></noscript>
</form>
</body></html>`
	t := template.Must(template.New("fp").Parse(tpl))
	_ = t.Execute(w, map[string]any{
		"Action": action,
		"Fields": fields,
	})
}
