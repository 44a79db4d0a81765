package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/evidense/internal/storage"
)

// ChartOptions configures the HTML charts. An empty AssetsHost uses the
// go-echarts CDN.
type ChartOptions struct {
	Title      string
	AssetsHost string
}

type labelled struct {
	label string
	index int
	r     storage.Record
}

func withResults(log *storage.Log) []labelled {
	var out []labelled
	for i, r := range log.Records() {
		if !r.HasResults() {
			continue
		}
		label := r.Triplet.Comment
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		out = append(out, labelled{label: label, index: i, r: r})
	}
	return out
}

// finite maps NaN and infinities to nil so the chart shows a gap.
func finite(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func initOpts(o ChartOptions, title string) charts.GlobalOpts {
	init := opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}
	if o.AssetsHost != "" {
		init.AssetsHost = o.AssetsHost
	}
	return charts.WithInitializationOpts(init)
}

// ConcentrationChart builds a grouped bar chart of the dsDNA, ssDNA and
// ssRNA concentrations of every record that has results.
func ConcentrationChart(log *storage.Log, o ChartOptions) (*charts.Bar, error) {
	rows := withResults(log)
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	x := make([]string, len(rows))
	ds := make([]opts.BarData, len(rows))
	ss := make([]opts.BarData, len(rows))
	rna := make([]opts.BarData, len(rows))
	for i, row := range rows {
		x[i] = row.label
		ds[i] = opts.BarData{Value: finite(row.r.Results.DsDNA)}
		ss[i] = opts.BarData{Value: finite(row.r.Results.SsDNA)}
		rna[i] = opts.BarData{Value: finite(row.r.Results.SsRNA)}
	}

	title := o.Title
	if title == "" {
		title = "Concentrations"
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts(o, title),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%d record(s), ng/µl", len(rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ng/µl"}),
	)
	bar.SetXAxis(x).
		AddSeries("dsDNA", ds).
		AddSeries("ssDNA", ss).
		AddSeries("ssRNA", rna)
	return bar, nil
}

// PurityChart builds a line chart of the 260/230 and 260/280 ratios.
func PurityChart(log *storage.Log, o ChartOptions) (*charts.Line, error) {
	rows := withResults(log)
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	x := make([]string, len(rows))
	p230 := make([]opts.LineData, len(rows))
	p280 := make([]opts.LineData, len(rows))
	for i, row := range rows {
		x[i] = row.label
		p230[i] = opts.LineData{Value: finite(row.r.Results.Purity260230)}
		p280[i] = opts.LineData{Value: finite(row.r.Results.Purity260280)}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		initOpts(o, "Purity"),
		charts.WithTitleOpts(opts.Title{Title: "Purity ratios"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("260/230", p230).
		AddSeries("260/280", p280)
	return line, nil
}

// RenderDashboard writes an HTML page holding both charts.
func RenderDashboard(w io.Writer, log *storage.Log, o ChartOptions) error {
	bar, err := ConcentrationChart(log, o)
	if err != nil {
		return err
	}
	line, err := PurityChart(log, o)
	if err != nil {
		return err
	}

	page := components.NewPage()
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.PageTitle = "evidense"
	page.AddCharts(bar, line)
	return page.Render(w)
}
