package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/region"
)

const flushTimeout = 5 * time.Second

func parseInts(s string, n int) ([]int, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated ints, got %q", n, s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parsePoint reads "x,y".
func parsePoint(s string) (grid.Point, error) {
	v, err := parseInts(s, 2)
	if err != nil {
		return grid.Point{}, err
	}
	return grid.Point{X: v[0], Y: v[1]}, nil
}

// parsePoints reads "x,y;x,y;...".
func parsePoints(s string) ([]grid.Point, error) {
	var out []grid.Point
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, err := parsePoint(part)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no points in %q", s)
	}
	return out, nil
}

// parseRect reads "x,y,w,h".
func parseRect(s string) (region.Rect, error) {
	v, err := parseInts(s, 4)
	if err != nil {
		return region.Rect{}, err
	}
	r := region.Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}
	if r.Empty() {
		return region.Rect{}, fmt.Errorf("rect %s has no area", r)
	}
	return r, nil
}
