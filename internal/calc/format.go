package calc

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/statshost/host/internal/interp"
)

// Format renders v the way the console prints a visible result.
func Format(v interp.Value) string {
	var b strings.Builder
	formatValue(&b, v, "")
	return strings.TrimRight(b.String(), "\n")
}

func formatValue(b *strings.Builder, v interp.Value, prefix string) {
	switch v := v.(type) {
	case nil, interp.Null:
		b.WriteString("NULL\n")
	case interp.Logical:
		elems := make([]string, len(v))
		for i, t := range v {
			switch t {
			case interp.True:
				elems[i] = "TRUE"
			case interp.False:
				elems[i] = "FALSE"
			default:
				elems[i] = "NA"
			}
		}
		writeVector(b, "logical", elems)
	case interp.Integer:
		elems := make([]string, len(v))
		for i, n := range v {
			if n == interp.NAInteger {
				elems[i] = "NA"
			} else {
				elems[i] = strconv.Itoa(int(n))
			}
		}
		writeVector(b, "integer", elems)
	case interp.Double:
		elems := make([]string, len(v))
		for i, x := range v {
			elems[i] = formatDouble(x)
		}
		writeVector(b, "numeric", elems)
	case interp.Character:
		elems := make([]string, len(v))
		for i, s := range v {
			if s == nil {
				elems[i] = "NA"
			} else {
				elems[i] = strconv.Quote(*s)
			}
		}
		writeVector(b, "character", elems)
	case interp.Raw:
		elems := make([]string, len(v))
		for i, c := range v {
			elems[i] = fmt.Sprintf("%02x", c)
		}
		writeVector(b, "raw", elems)
	case *interp.List:
		if len(v.Values) == 0 {
			b.WriteString("list()\n")
			return
		}
		for i, e := range v.Values {
			tag := fmt.Sprintf("%s[[%d]]", prefix, i+1)
			if v.Names != nil && v.Names[i] != "" {
				tag = prefix + "$" + v.Names[i]
			}
			b.WriteString(tag + "\n")
			formatValue(b, e, tag)
			b.WriteString("\n")
		}
	case interp.Env:
		fmt.Fprintf(b, "%v\n", v)
	default:
		fmt.Fprintf(b, "<%s>\n", v.TypeName())
	}
}

func writeVector(b *strings.Builder, typ string, elems []string) {
	if len(elems) == 0 {
		b.WriteString(typ + "(0)\n")
		return
	}
	b.WriteString("[1] " + strings.Join(elems, " ") + "\n")
}

func formatDouble(x float64) string {
	switch {
	case interp.IsNADouble(x):
		return "NA"
	case math.IsNaN(x):
		return "NaN"
	case math.IsInf(x, 1):
		return "Inf"
	case math.IsInf(x, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(x, 'g', 7, 64)
}

// catText renders a value for cat(): unquoted, space separated.
func catText(x any) string {
	switch v := x.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return formatDouble(v)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = catText(e)
		}
		return strings.Join(parts, " ")
	case []float64:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = formatDouble(e)
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(v, " ")
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	}
	return fmt.Sprint(x)
}
