package pipeline

import (
	"encoding/csv"
	"errors"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

const maxMismatches = 20

// Mismatch describes one differing cell. Row 0 is the header.
type Mismatch struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Left   string `json:"left"`
	Right  string `json:"right"`
}

// Comparison is the result of comparing two pipeline outputs.
type Comparison struct {
	LeftRows   int        `json:"left_rows"`
	RightRows  int        `json:"right_rows"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	Truncated  bool       `json:"truncated,omitempty"`
}

// Equal reports whether no difference was found.
func (c Comparison) Equal() bool {
	return c.LeftRows == c.RightRows && len(c.Mismatches) == 0
}

// Compare checks two output files row by row. delivery_time_days cells are
// equal when both are N/A or both are numbers within tolerance; every other
// cell must match exactly.
func Compare(left, right string, tolerance float64) (Comparison, error) {
	a, err := readAll(left)
	if err != nil {
		return Comparison{}, err
	}
	b, err := readAll(right)
	if err != nil {
		return Comparison{}, err
	}

	res := Comparison{LeftRows: max(len(a)-1, 0), RightRows: max(len(b)-1, 0)}
	if len(a) == 0 || len(b) == 0 {
		if len(a) != len(b) {
			res.add(Mismatch{Column: "header"})
		}
		return res, nil
	}
	header := a[0]
	if !slices.Equal(a[0], b[0]) {
		res.add(Mismatch{Column: "header", Left: strings.Join(a[0], ","), Right: strings.Join(b[0], ",")})
		return res, nil
	}
	daysCol := slices.Index(header, entity.ColumnDeliveryTimeDays)

	for i := 1; i < min(len(a), len(b)); i++ {
		for j := range header {
			l, r := cell(a[i], j), cell(b[i], j)
			if j == daysCol && daysEqual(l, r, tolerance) {
				continue
			}
			if l != r {
				res.add(Mismatch{Row: i, Column: header[j], Left: l, Right: r})
			}
		}
	}
	return res, nil
}

func (c *Comparison) add(m Mismatch) {
	if len(c.Mismatches) == maxMismatches {
		c.Truncated = true
		return
	}
	c.Mismatches = append(c.Mismatches, m)
}

func daysEqual(l, r string, tolerance float64) bool {
	if l == r {
		return true
	}
	lv, lerr := strconv.ParseFloat(l, 64)
	rv, rerr := strconv.ParseFloat(r, 64)
	if lerr != nil || rerr != nil {
		return false
	}
	return math.Abs(lv-rv) <= tolerance
}

func cell(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

func readAll(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		msg := "open output"
		if errors.Is(err, os.ErrNotExist) {
			msg = "output file not found"
		}
		return nil, errorbank.DataSource(msg, errorbank.WithCause(err), errorbank.WithDetail("path", path))
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, errorbank.DataSource("read output", errorbank.WithCause(err), errorbank.WithDetail("path", path))
	}
	return records, nil
}
