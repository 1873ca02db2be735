package index

import "html/template"

var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset='UTF-8'>
<title>{{.Title}}</title>
<style>
body { font-family: Arial, sans-serif; background: #f9f9f9; padding: 20px; }
h1 { text-align: center; }
table { width: 100%; border-collapse: collapse; margin: 20px 0; }
th, td { padding: 8px 12px; border: 1px solid #ddd; }
tr:nth-child(even) { background-color: #f2f2f2; }
tr.header { background-color: #4CAF50; color: white; }
a { color: #1a73e8; text-decoration: none; }
a:hover { text-decoration: underline; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<table>
{{- range .Years}}
<tr class='header'><td colspan='3'><strong style='color:#000000; font-size:14px'>{{.Year}}</strong></td></tr>
{{- range .Months}}
<tr><td colspan='3'><strong style='font-size:13px;'>{{.Name}}</strong></td></tr>
{{- range .Entries}}
<tr><td style='font-size:10px' width='70' align='center'>{{.Date}}</td>
{{- if .DocumentHref}}<td><a href='{{.DocumentHref}}' target='_blank'><strong>{{.Name}}</strong></a></td>
{{- else}}<td><strong>{{.Name}}</strong></td>{{end -}}
<td style='font-size:10px' width='75' align='center'>
{{- if .DocumentHref}}<a href='{{.DocumentHref}}' target='_blank'>anzeigen</a>{{end}}
{{- if and .DocumentHref .FileHref}} | {{end}}
{{- if .FileHref}}<a href='{{.FileHref}}' target='_blank'>PDF</a>{{end -}}
</td></tr>
{{- end}}
{{- end}}
{{- end}}
</table>
</body>
</html>
`))
