// Package web holds the static dashboard served on the stats path.
package web

import (
	"embed"
	"html/template"
	"io"
	"time"
)

//go:embed stats.html
var files embed.FS

var stats = template.Must(template.ParseFS(files, "stats.html"))

// StatsPage is the data the dashboard is rendered with.
type StatsPage struct {
	WSPath   string
	Interval time.Duration
}

// IntervalSeconds is the websocket refresh interval requested by the page.
func (p StatsPage) IntervalSeconds() float64 {
	return p.Interval.Seconds()
}

// RenderStats writes the dashboard to w.
func RenderStats(w io.Writer, page StatsPage) error {
	return stats.Execute(w, page)
}
