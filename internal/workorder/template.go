package workorder

import (
	"bytes"
	"html/template"
	"time"
)

var sheetTemplate = template.Must(template.New("workorders").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; margin: 24px; }
  .sheet { page-break-after: always; border: 1px solid #222; padding: 16px; margin-bottom: 16px; }
  .sheet:last-child { page-break-after: auto; }
  h1 { font-size: 18px; margin: 0 0 4px 0; }
  .meta { color: #555; margin-bottom: 12px; }
  .missing { color: #b00; font-weight: bold; }
  .item { margin-bottom: 14px; }
  .item h2 { font-size: 14px; margin: 0 0 6px 0; }
  table { border-collapse: collapse; margin-bottom: 6px; }
  th, td { border: 1px solid #999; padding: 3px 8px; text-align: center; }
  th { background: #eee; }
  .art { max-width: 280px; max-height: 200px; }
  .art-placeholder { width: 280px; height: 120px; border: 1px dashed #999;
    display: flex; align-items: center; justify-content: center; color: #999; }
  footer { color: #888; font-size: 10px; }
</style>
</head>
<body>
{{- range .Orders }}
<div class="sheet">
  <h1>Work Order #{{ .Order.ID }}</h1>
  <div class="meta">
    {{ .Order.Customer }}
    {{- with .Order.PONumbers }} &middot; PO {{ range $i, $n := . }}{{ if $i }}, {{ end }}{{ $n }}{{ end }}{{ end }}
    {{- if .Order.MissingGoods }} <span class="missing">PARTIAL GOODS</span>{{ end }}
  </div>
  {{- range .Items }}
  <div class="item">
    <h2>{{ .ItemCode }} ({{ .TotalQty }} pcs)</h2>
    {{- range .Colors }}
    <table>
      <tr><th>{{ .Color }}</th>{{ range .Sizes }}<th>{{ .Size }}</th>{{ end }}</tr>
      <tr><td>qty</td>{{ range .Sizes }}<td>{{ .Qty }}</td>{{ end }}</tr>
    </table>
    {{- end }}
    {{- $file := index $.Art .ArtworkURL }}
    {{- if $file }}
    <img class="art" src="{{ $file }}" alt="artwork">
    {{- else }}
    <div class="art-placeholder">artwork unavailable</div>
    {{- end }}
    {{- with .Note }}<div>{{ . }}</div>{{ end }}
  </div>
  {{- end }}
</div>
{{- end }}
<footer>Generated {{ .Generated.Format "Jan 2 2006 15:04 MST" }} &middot; chunk {{ .ChunkIndex }}/{{ .ChunkTotal }}</footer>
</body>
</html>`))

type sheetData struct {
	Orders     []WorkOrder
	Art        map[string]string
	Generated  time.Time
	ChunkIndex int
	ChunkTotal int
}

func renderSheets(data sheetData) (string, error) {
	var buf bytes.Buffer
	if err := sheetTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
