package waveform

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Load reads whitespace-separated samples. Blank lines and lines starting
// with '#' are ignored.
func Load(r io.Reader) ([]float64, error) {
	var out []float64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		for _, field := range strings.Fields(text) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("waveform: line %d: %w", line, err)
			}
			out = append(out, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("waveform: read: %w", err)
	}
	return out, nil
}

// LoadFile reads samples from path.
func LoadFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Save writes one sample per line.
func Save(w io.Writer, signal []float64) error {
	bw := bufio.NewWriter(w)
	for _, v := range signal {
		bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// SaveFile writes samples to path, replacing any existing file.
func SaveFile(path string, signal []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Save(f, signal); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
