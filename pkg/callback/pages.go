package callback

import (
	"html/template"
)

const (
	pageResult = "result"
	pageRelay  = "relay"
)

var pages = template.Must(template.New(pageResult).Parse(`<!DOCTYPE html>
<html>
	<head><meta charset="utf-8"><title>{{.Title}}</title></head>
	<body>
		<h1>{{.Title}}</h1>
		<p>{{.Message}}</p>
		{{if .Close}}<script>window.close();</script>{{end}}
	</body>
</html>
`))

// The social provider puts code and state in the fragment for native logins.
// Browsers never send the fragment, so the relay page hands it back as a
// query parameter.
var _ = template.Must(pages.New(pageRelay).Parse(`<!DOCTYPE html>
<html>
	<head><meta charset="utf-8"><title>Signing in</title></head>
	<body>
		<noscript>JavaScript is required to finish signing in.</noscript>
		<script>
			var fragment = window.location.hash.substring(1);
			window.location.replace({{.Path}} + "?" + {{.Param}} + "=" + encodeURIComponent(fragment));
		</script>
	</body>
</html>
`))
