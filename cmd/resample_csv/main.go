// Command resample_csv aggregates a bar CSV into a coarser cadence,
// writing the same timestamp,open,high,low,close,volume layout.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"backtest-services/services/market"
)

func parseMinutes(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "min"), "m")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported cadence %q", s)
	}
	return time.Duration(n) * time.Minute, nil
}

func main() {
	in := flag.String("in", "", "Input CSV (timestamp,open,high,low,close,volume)")
	out := flag.String("out", "", "Output CSV path")
	src := flag.String("src", "5m", "Source cadence (e.g., 5m)")
	dst := flag.String("dst", "15m", "Target cadence (e.g., 15m)")
	flag.Parse()

	if *in == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "-in and -out are required")
		os.Exit(2)
	}
	srcDur, err := parseMinutes(*src)
	if err != nil {
		panic(err)
	}
	dstDur, err := parseMinutes(*dst)
	if err != nil {
		panic(err)
	}
	if dstDur%srcDur != 0 {
		panic("dst must be a multiple of src")
	}

	series, err := market.LoadCSV(*in, "resample")
	if err != nil {
		panic(err)
	}
	if series.Len() == 0 {
		panic("no input bars parsed")
	}

	resampled, err := market.Resample(series, dstDur)
	if err != nil {
		panic(err)
	}

	of, err := os.Create(*out)
	if err != nil {
		panic(err)
	}
	defer of.Close()
	w := bufio.NewWriter(of)
	w.WriteString("timestamp,open,high,low,close,volume\n")
	for _, b := range resampled.Bars {
		fmt.Fprintf(w, "%d,%.8f,%.8f,%.8f,%.8f,%.8f\n",
			b.Timestamp.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	if err := w.Flush(); err != nil {
		panic(err)
	}
}
