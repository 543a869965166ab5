package agent

import (
	"math"
	"strings"

	xerrors "EasyCash-SDK/internal/errors"
	"EasyCash-SDK/internal/types"
)

// Preference 决定路由选择的优化目标。
type Preference string

const (
	PreferSpeed    Preference = "speed"
	PreferCost     Preference = "cost"
	PreferSecurity Preference = "security"
	PreferBalanced Preference = "balanced"
)

// ParsePreference 解析偏好，未知值视为 balanced。
func ParsePreference(s string) Preference {
	switch p := Preference(strings.ToLower(strings.TrimSpace(s))); p {
	case PreferSpeed, PreferCost, PreferSecurity:
		return p
	}
	return PreferBalanced
}

// Balanced 打分权重。
const (
	balancedSecurityWeight = 0.5
	balancedTimeWeight     = 0.3
	balancedFeeWeight      = 0.2

	// 费用无法解析时 balanced 打分使用的默认值。
	balancedFeeFallback = 1.0
)

// ErrNoQuotes 表示没有可供选择的报价。
var ErrNoQuotes = xerrors.New(xerrors.CodeAgentUnavailable, "no quotes available")

// SelectBestRoute 按偏好选择最优报价。分数相同时保留输入顺序中靠前的报价。
// 输入切片不会被修改，返回值是被选中报价的拷贝。
func SelectBestRoute(quotes []types.RouteQuote, pref Preference) (types.RouteQuote, error) {
	if len(quotes) == 0 {
		return types.RouteQuote{}, ErrNoQuotes
	}

	var score func(types.RouteQuote) float64
	switch pref {
	case PreferSpeed:
		score = func(q types.RouteQuote) float64 { return -q.EstimatedTime.Seconds() }
	case PreferCost:
		score = func(q types.RouteQuote) float64 {
			fee, ok := q.FeeAmount()
			if !ok {
				return math.Inf(-1)
			}
			return -fee
		}
	case PreferSecurity:
		score = func(q types.RouteQuote) float64 { return q.SecurityScore }
	default:
		score = BalancedScore
	}

	best := 0
	bestScore := finite(score(quotes[0]))
	for i := 1; i < len(quotes); i++ {
		// 严格大于才替换，保证并列时取第一个。
		if s := finite(score(quotes[i])); s > bestScore {
			best, bestScore = i, s
		}
	}
	return quotes[best].Clone(), nil
}

// finite 把 NaN 分数压到最低，避免其占据最优位置。
func finite(s float64) float64 {
	if math.IsNaN(s) {
		return math.Inf(-1)
	}
	return s
}

// BalancedScore 计算 balanced 偏好下的综合得分。
func BalancedScore(q types.RouteQuote) float64 {
	fee, ok := q.FeeAmount()
	if !ok {
		fee = balancedFeeFallback
	}
	return balancedSecurityWeight*q.SecurityScore +
		balancedTimeWeight/(q.EstimatedTime.Seconds()+1) +
		balancedFeeWeight/(fee+1)
}
