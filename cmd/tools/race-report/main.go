// Command race-report summarises a results database after a race day.
//
// It prints per-lane aggregates (races counted, mean, spread, best) and
// can write an interactive chart page plus a lane-times plot for the
// noticeboard.
//
// Usage:
//
//	go run ./cmd/tools/race-report [flags]
//
// Flags:
//
//	-results-db  Results database to report on (default: results.db)
//	-limit       Most recent races to include (default: 100)
//	-html        Interactive chart page to write (default: report.html, "" disables)
//	-png         Lane-times plot to write (default: "" = disabled)
package main

import (
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/Sylteon/uzlarska-regata/internal/db"
	"github.com/Sylteon/uzlarska-regata/internal/race"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func main() {
	resultsDB := flag.String("results-db", "results.db", "Results database to report on")
	limit := flag.Int("limit", 100, "Most recent races to include")
	htmlPath := flag.String("html", "report.html", "Interactive chart page to write (\"\" disables)")
	pngPath := flag.String("png", "", "Lane-times plot to write (\"\" disables)")
	flag.Parse()

	// Stat first: NewDB would create and migrate an empty database at a
	// mistyped path, and an empty report helps nobody.
	if _, err := os.Stat(*resultsDB); err != nil {
		log.Fatalf("No results database at %s: %v", *resultsDB, err)
	}
	database, err := db.NewDB(*resultsDB)
	if err != nil {
		log.Fatalf("Failed to open results database: %v", err)
	}
	defer database.Close()

	records, err := loadRaces(database, *limit)
	if err != nil {
		log.Fatalf("Failed to load races: %v", err)
	}
	if len(records) == 0 {
		log.Fatalf("No races recorded in %s", *resultsDB)
	}

	summaries := summarise(laneSeries(records))
	printSummary(os.Stdout, records, summaries)

	if *htmlPath != "" {
		if err := writeHTMLReport(*htmlPath, records, summaries); err != nil {
			log.Fatalf("Failed to write %s: %v", *htmlPath, err)
		}
		log.Printf("Wrote %s", *htmlPath)
	}
	if *pngPath != "" {
		if err := writePNGReport(*pngPath, records); err != nil {
			log.Fatalf("Failed to write %s: %v", *pngPath, err)
		}
		log.Printf("Wrote %s", *pngPath)
	}
}

// loadRaces returns the most recent races with lane detail, oldest
// first so race indexes read left to right on the charts.
func loadRaces(database *db.DB, limit int) ([]db.RaceRecord, error) {
	races, err := database.ListRaces(limit)
	if err != nil {
		return nil, err
	}

	records := make([]db.RaceRecord, 0, len(races))
	for i := len(races) - 1; i >= 0; i-- {
		full, err := database.GetRace(races[i].RaceID)
		if err != nil {
			return nil, err
		}
		if full != nil {
			records = append(records, *full)
		}
	}
	return records, nil
}

// countedTime reports whether a lane row carries a finishing time worth
// aggregating. Disqualified lanes and never-stopped zeros are excluded.
func countedTime(l db.LaneRecord) bool {
	return l.Marker != race.MarkerDisqualified.String() && l.ElapsedMs > 0
}

// laneSeries flips race rows into per-lane time series, in seconds.
func laneSeries(records []db.RaceRecord) map[int][]float64 {
	series := make(map[int][]float64)
	for _, r := range records {
		for _, l := range r.Lanes {
			if !countedTime(l) {
				continue
			}
			series[l.Lane] = append(series[l.Lane], float64(l.ElapsedMs)/1000.0)
		}
	}
	return series
}

// laneSummary is one lane's aggregate over the reported races. Times
// are in seconds.
type laneSummary struct {
	Lane   int
	Count  int
	Mean   float64
	StdDev float64
	Best   float64
}

// summarise computes per-lane aggregates, sorted by lane. Lanes with no
// counted times do not appear.
func summarise(series map[int][]float64) []laneSummary {
	lanes := make([]int, 0, len(series))
	for lane := range series {
		lanes = append(lanes, lane)
	}
	sort.Ints(lanes)

	summaries := make([]laneSummary, 0, len(lanes))
	for _, lane := range lanes {
		times := series[lane]
		s := laneSummary{
			Lane:  lane,
			Count: len(times),
			Mean:  stat.Mean(times, nil),
			Best:  floats.Min(times),
		}
		if len(times) > 1 {
			s.StdDev = stat.StdDev(times, nil)
		}
		summaries = append(summaries, s)
	}
	return summaries
}

func formatSeconds(sec float64) string {
	return race.FormatElapsed(int64(math.Round(sec * 1000)))
}

func printSummary(w io.Writer, records []db.RaceRecord, summaries []laneSummary) {
	first := time.UnixMilli(records[0].StartedAtMs)
	last := time.UnixMilli(records[len(records)-1].StartedAtMs)
	fmt.Fprintf(w, "%d races, %s to %s\n\n", len(records),
		first.Format("2006-01-02 15:04"), last.Format("15:04"))

	fmt.Fprintf(w, "%-6s %-6s %-10s %-8s %-10s\n", "Lane", "Races", "Mean", "StdDev", "Best")
	for _, s := range summaries {
		fmt.Fprintf(w, "%-6d %-6d %-10s %-8s %-10s\n",
			s.Lane, s.Count, formatSeconds(s.Mean),
			fmt.Sprintf("%.2fs", s.StdDev), formatSeconds(s.Best))
	}
}

// writeHTMLReport renders the interactive page: mean/best bars per lane
// and a lane-times scatter across races.
func writeHTMLReport(path string, records []db.RaceRecord, summaries []laneSummary) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Regata results", Theme: "dark", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Mean and best time by lane", Subtitle: fmt.Sprintf("races=%d", len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Seconds"}),
	)

	laneLabels := make([]string, 0, len(summaries))
	meanData := make([]opts.BarData, 0, len(summaries))
	bestData := make([]opts.BarData, 0, len(summaries))
	for _, s := range summaries {
		laneLabels = append(laneLabels, fmt.Sprintf("Lane %d", s.Lane))
		meanData = append(meanData, opts.BarData{Value: math.Round(s.Mean*100) / 100})
		bestData = append(bestData, opts.BarData{Value: math.Round(s.Best*100) / 100})
	}
	bar.SetXAxis(laneLabels).
		AddSeries("mean", meanData).
		AddSeries("best", bestData)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Regata results", Theme: "dark", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Lane times by race"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Race", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Seconds"}),
	)

	perLane := make(map[int][]opts.ScatterData)
	for i, r := range records {
		for _, l := range r.Lanes {
			if !countedTime(l) {
				continue
			}
			perLane[l.Lane] = append(perLane[l.Lane], opts.ScatterData{
				Value: []interface{}{i + 1, float64(l.ElapsedMs) / 1000.0},
			})
		}
	}
	lanes := make([]int, 0, len(perLane))
	for lane := range perLane {
		lanes = append(lanes, lane)
	}
	sort.Ints(lanes)
	for _, lane := range lanes {
		scatter.AddSeries(fmt.Sprintf("lane %d", lane), perLane[lane],
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	page := components.NewPage()
	page.AddCharts(bar, scatter)
	if err := page.Render(f); err != nil {
		return fmt.Errorf("failed to render report page: %w", err)
	}
	return nil
}

// lanePalette covers the nine-lane protocol bound.
var lanePalette = []color.RGBA{
	{R: 0xd6, G: 0x28, B: 0x28, A: 0xff},
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	{R: 0x17, G: 0xbe, B: 0xcf, A: 0xff},
	{R: 0xe3, G: 0x77, B: 0xc2, A: 0xff},
	{R: 0xbc, G: 0xbd, B: 0x22, A: 0xff},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
}

// writePNGReport plots each lane's times across races for the
// noticeboard printout.
func writePNGReport(path string, records []db.RaceRecord) error {
	p := plot.New()
	p.Title.Text = "Lane times by race"
	p.X.Label.Text = "Race"
	p.Y.Label.Text = "Seconds"

	perLane := make(map[int]plotter.XYs)
	for i, r := range records {
		for _, l := range r.Lanes {
			if !countedTime(l) {
				continue
			}
			perLane[l.Lane] = append(perLane[l.Lane], plotter.XY{
				X: float64(i + 1),
				Y: float64(l.ElapsedMs) / 1000.0,
			})
		}
	}

	lanes := make([]int, 0, len(perLane))
	for lane := range perLane {
		lanes = append(lanes, lane)
	}
	sort.Ints(lanes)

	for i, lane := range lanes {
		line, points, err := plotter.NewLinePoints(perLane[lane])
		if err != nil {
			return fmt.Errorf("lane %d: %w", lane, err)
		}
		line.Color = lanePalette[i%len(lanePalette)]
		line.Width = vg.Points(1)
		points.Color = lanePalette[i%len(lanePalette)]
		p.Add(line, points)
		p.Legend.Add(fmt.Sprintf("lane %d", lane), line, points)
	}
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save lane plot: %w", err)
	}
	return nil
}
