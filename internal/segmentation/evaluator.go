package segmentation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ignite/leadscore/internal/domain"
)

// Date layouts accepted by the date operators, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

const dateOnlyLayout = "2006-01-02"

// Evaluate applies op to a lead field value and a rule value. It never
// panics and never fails: unknown operators, type mismatches and
// unparsable operands all yield false.
func Evaluate(fieldValue any, op domain.Operator, ruleValue any) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()

	switch op {
	case domain.OpEquals:
		return equal(fieldValue, ruleValue)
	case domain.OpNotEquals:
		return !equal(fieldValue, ruleValue)
	case domain.OpGt:
		c, ok := compare(fieldValue, ruleValue)
		return ok && c > 0
	case domain.OpGte:
		c, ok := compare(fieldValue, ruleValue)
		return ok && c >= 0
	case domain.OpLt:
		c, ok := compare(fieldValue, ruleValue)
		return ok && c < 0
	case domain.OpLte:
		c, ok := compare(fieldValue, ruleValue)
		return ok && c <= 0

	case domain.OpContains, domain.OpNotContains, domain.OpStartsWith, domain.OpEndsWith:
		return evalText(fieldValue, op, ruleValue)

	case domain.OpIn:
		list, ok := toList(ruleValue)
		return ok && inList(fieldValue, list)
	case domain.OpNotIn:
		list, ok := toList(ruleValue)
		return ok && !inList(fieldValue, list)

	case domain.OpIsNull:
		return fieldValue == nil
	case domain.OpIsNotNull:
		return fieldValue != nil
	case domain.OpIsEmpty:
		return isEmpty(fieldValue)
	case domain.OpIsNotEmpty:
		return !isEmpty(fieldValue)

	case domain.OpRegex:
		return evalRegex(fieldValue, ruleValue)

	case domain.OpDateEquals, domain.OpDateAfter, domain.OpDateBefore:
		return evalDate(fieldValue, op, ruleValue)
	case domain.OpDateBetween:
		return evalDateBetween(fieldValue, ruleValue)
	}
	return false
}

// ==========================================
// EQUALITY AND ORDERING
// ==========================================

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case string:
		bs, ok := scalarString(b)
		return ok && av == bs
	case bool:
		bb, ok := toBool(b)
		return ok && av == bb
	case time.Time:
		bt, _, ok := toTime(b)
		return ok && av.Equal(bt)
	case []string:
		list, ok := toList(b)
		if !ok || len(list) != len(av) {
			return false
		}
		for i, s := range av {
			if !equal(s, list[i]) {
				return false
			}
		}
		return true
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return false
}

// compare orders a against b using a's native type. The second result is
// false when b cannot be coerced to that type.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch av := a.(type) {
	case string:
		bs, ok := scalarString(b)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bs), true
	case time.Time:
		bt, _, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return av.Compare(bt), true
	case bool, []string:
		return 0, false
	}
	af, ok := toFloat(a)
	if !ok {
		return 0, false
	}
	bf, ok := toFloat(b)
	if !ok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

// ==========================================
// TEXT
// ==========================================

func evalText(fieldValue any, op domain.Operator, ruleValue any) bool {
	s, ok := fieldValue.(string)
	if !ok {
		return false
	}
	needle, ok := scalarString(ruleValue)
	if !ok {
		return false
	}
	switch op {
	case domain.OpContains:
		return strings.Contains(s, needle)
	case domain.OpNotContains:
		return !strings.Contains(s, needle)
	case domain.OpStartsWith:
		return strings.HasPrefix(s, needle)
	case domain.OpEndsWith:
		return strings.HasSuffix(s, needle)
	}
	return false
}

// regexCache holds compiled rule patterns (nil when invalid). Entries expire
// so patterns from deleted or edited rules do not accumulate.
var regexCache = cache.New(regexCacheTTL, 2*regexCacheTTL)

const regexCacheTTL = 10 * time.Minute

func evalRegex(fieldValue, ruleValue any) bool {
	s, ok := fieldValue.(string)
	if !ok {
		return false
	}
	pattern, ok := ruleValue.(string)
	if !ok {
		return false
	}
	re := compilePattern(pattern)
	return re != nil && re.MatchString(s)
}

func compilePattern(pattern string) *regexp.Regexp {
	if cached, ok := regexCache.Get(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile(normalizePattern(pattern))
	if err != nil {
		re = nil
	}
	regexCache.Set(pattern, re, cache.DefaultExpiration)
	return re
}

// normalizePattern accepts delimited patterns such as "/^acme/i" and turns
// trailing flags into Go inline flags.
func normalizePattern(p string) string {
	if len(p) < 2 || p[0] != '/' {
		return p
	}
	end := strings.LastIndex(p, "/")
	if end <= 0 {
		return p
	}
	body, flags := p[1:end], p[end+1:]
	for _, f := range flags {
		if !strings.ContainsRune("imsU", f) {
			return p
		}
	}
	if flags == "" {
		return body
	}
	return "(?" + flags + ")" + body
}

// ==========================================
// LISTS AND EMPTINESS
// ==========================================

func inList(fieldValue any, list []any) bool {
	if tags, ok := fieldValue.([]string); ok {
		for _, tag := range tags {
			for _, item := range list {
				if equal(tag, item) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range list {
		if equal(fieldValue, item) {
			return true
		}
	}
	return false
}

func toList(v any) ([]any, bool) {
	switch lv := v.(type) {
	case []any:
		return lv, true
	case []string:
		out := make([]any, len(lv))
		for i, s := range lv {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(lv))
		for i, n := range lv {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(lv))
		for i, n := range lv {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch vv := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(vv) == ""
	case []string:
		return len(vv) == 0
	case []any:
		return len(vv) == 0
	case time.Time:
		return vv.IsZero()
	}
	return false
}

// ==========================================
// DATES
// ==========================================

func evalDate(fieldValue any, op domain.Operator, ruleValue any) bool {
	ft, _, ok := toTime(fieldValue)
	if !ok {
		return false
	}
	rt, _, ok := toTime(ruleValue)
	if !ok {
		return false
	}
	switch op {
	case domain.OpDateEquals:
		return ft.UTC().Format(dateOnlyLayout) == rt.UTC().Format(dateOnlyLayout)
	case domain.OpDateAfter:
		return ft.After(rt)
	case domain.OpDateBefore:
		return ft.Before(rt)
	}
	return false
}

func evalDateBetween(fieldValue, ruleValue any) bool {
	ft, _, ok := toTime(fieldValue)
	if !ok {
		return false
	}
	startRaw, endRaw, ok := rangeBounds(ruleValue)
	if !ok {
		return false
	}
	start, _, ok := toTime(startRaw)
	if !ok {
		return false
	}
	end, dateOnly, ok := toTime(endRaw)
	if !ok {
		return false
	}
	if dateOnly {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	return !ft.Before(start) && !ft.After(end)
}

func rangeBounds(v any) (any, any, bool) {
	switch rv := v.(type) {
	case map[string]any:
		start, sok := rv["start"]
		end, eok := rv["end"]
		return start, end, sok && eok
	case map[string]string:
		start, sok := rv["start"]
		end, eok := rv["end"]
		return start, end, sok && eok
	}
	return nil, nil, false
}

// toTime parses v as an instant. dateOnly reports that v carried no time of
// day.
func toTime(v any) (t time.Time, dateOnly bool, ok bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv, false, !tv.IsZero()
	case *time.Time:
		if tv == nil {
			return time.Time{}, false, false
		}
		return *tv, false, !tv.IsZero()
	case string:
		s := strings.TrimSpace(tv)
		for _, layout := range dateLayouts {
			if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return parsed, layout == dateOnlyLayout, true
			}
		}
	}
	return time.Time{}, false, false
}

// ==========================================
// SCALAR COERCION
// ==========================================

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}

// scalarString renders strings, numbers and booleans as text. Compound and
// nil values are rejected.
func scalarString(v any) (string, bool) {
	switch sv := v.(type) {
	case string:
		return sv, true
	case bool:
		return strconv.FormatBool(sv), true
	case float64:
		return strconv.FormatFloat(sv, 'f', -1, 64), true
	case float32, int, int32, int64, json.Number:
		return fmt.Sprint(sv), true
	}
	return "", false
}
