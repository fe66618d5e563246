package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sample is one line of a Prometheus text exposition.
type Sample struct {
	Labels map[string]string
	Value  float64
}

// Exposition holds a parsed scrape keyed by sample name. Histogram series
// appear under their _bucket, _sum and _count names.
type Exposition map[string][]Sample

// Sum adds every sample of name whose labels include all of match.
func (e Exposition) Sum(name string, match map[string]string) float64 {
	var total float64
	for _, s := range e[name] {
		if matches(s.Labels, match) {
			total += s.Value
		}
	}
	return total
}

// LabelValues returns the distinct values of label across samples of name.
func (e Exposition) LabelValues(name, label string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range e[name] {
		v, ok := s.Labels[label]
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func matches(labels, match map[string]string) bool {
	for k, v := range match {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// MetricsClient scrapes a buildbuddy server's /metrics endpoint.
type MetricsClient struct {
	url    string
	client *http.Client
}

// NewMetricsClient creates a client for the server at serverURL.
func NewMetricsClient(serverURL string) *MetricsClient {
	return &MetricsClient{
		url: strings.TrimRight(serverURL, "/") + "/metrics",
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Scrape fetches and parses the current exposition.
func (c *MetricsClient) Scrape(ctx context.Context) (Exposition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return ParseExposition(resp.Body)
}

// ParseExposition reads the Prometheus text format. Comment and blank lines
// are skipped; timestamps are ignored.
func ParseExposition(r io.Reader) (Exposition, error) {
	exp := Exposition{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		name, sample, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		exp[name] = append(exp[name], sample)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exposition: %w", err)
	}
	return exp, nil
}

func parseLine(line string) (string, Sample, error) {
	end := strings.IndexAny(line, "{ \t")
	if end <= 0 {
		return "", Sample{}, fmt.Errorf("malformed sample %q", line)
	}
	name := line[:end]
	rest := line[end:]
	sample := Sample{Labels: map[string]string{}}

	if rest[0] == '{' {
		labels, n, err := parseLabels(rest[1:])
		if err != nil {
			return "", Sample{}, err
		}
		sample.Labels = labels
		rest = rest[1+n:]
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", Sample{}, fmt.Errorf("sample %s has no value", name)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", Sample{}, fmt.Errorf("sample %s: %w", name, err)
	}
	sample.Value = v
	return name, sample, nil
}

// parseLabels reads k="v" pairs up to the closing brace and returns the
// number of bytes consumed including the brace.
func parseLabels(s string) (map[string]string, int, error) {
	labels := map[string]string{}
	i := 0
	for {
		for i < len(s) && (s[i] == ' ' || s[i] == ',') {
			i++
		}
		if i >= len(s) {
			return nil, 0, fmt.Errorf("unterminated label set")
		}
		if s[i] == '}' {
			return labels, i + 1, nil
		}

		eq := strings.IndexByte(s[i:], '=')
		if eq <= 0 || i+eq+1 >= len(s) || s[i+eq+1] != '"' {
			return nil, 0, fmt.Errorf("malformed label near %q", s[i:])
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 2

		var val strings.Builder
		closed := false
		for i < len(s) {
			c := s[i]
			i++
			if c == '"' {
				closed = true
				break
			}
			if c == '\\' && i < len(s) {
				switch s[i] {
				case 'n':
					val.WriteByte('\n')
				default:
					val.WriteByte(s[i])
				}
				i++
				continue
			}
			val.WriteByte(c)
		}
		if !closed {
			return nil, 0, fmt.Errorf("unterminated value for label %s", key)
		}
		labels[key] = val.String()
	}
}
