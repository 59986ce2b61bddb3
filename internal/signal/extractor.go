package signal

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	minConfidence      = 0.1
	maxBaseConfidence  = 0.9
	maxConfidence      = 0.95
	baseConfidence     = 0.3
	votesPerConfidence = 50.0
	knownTokenBonus    = 0.2
	mentionDiscount    = 0.7
	minSymbolLength    = 2
	maxSymbolLength    = 10
)

// Extractor 根据正则模式从帖子中提取交易信号。
type Extractor struct {
	known map[string]struct{}
}

// Option 定义可选的 Extractor 配置。
type Option func(*Extractor)

// WithKnownTokens 在内置集合之外追加已知代币。
func WithKnownTokens(symbols ...string) Option {
	return func(e *Extractor) {
		for _, symbol := range symbols {
			symbol = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(symbol), "$"))
			if symbol != "" {
				e.known[symbol] = struct{}{}
			}
		}
	}
}

// NewExtractor 创建 Extractor。
func NewExtractor(opts ...Option) *Extractor {
	known := make(map[string]struct{}, len(knownTokens))
	for symbol := range knownTokens {
		known[symbol] = struct{}{}
	}
	e := &Extractor{known: known}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

var defaultExtractor = NewExtractor()

// Extract 使用内置代币集合提取信号。
func Extract(posts []Post) []Signal {
	return defaultExtractor.Extract(posts)
}

// IsKnown 判断代币是否在已知集合中。
func (e *Extractor) IsKnown(symbol string) bool {
	_, ok := e.known[symbol]
	return ok
}

// Extract 对一批帖子执行提取，结果按 (action, token) 去重并按置信度降序排列。
func (e *Extractor) Extract(posts []Post) []Signal {
	best := make(map[string]int)
	var batch []Signal
	for _, post := range posts {
		for _, sig := range e.extractPost(post) {
			idx, seen := best[sig.Key()]
			if !seen {
				best[sig.Key()] = len(batch)
				batch = append(batch, sig)
				continue
			}
			if sig.Confidence > batch[idx].Confidence {
				batch[idx] = sig
			}
		}
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Confidence > batch[j].Confidence
	})
	return batch
}

func (e *Extractor) extractPost(post Post) []Signal {
	text := post.Title + "\n" + post.Body
	base := BaseConfidence(post.Upvotes, post.Downvotes)
	source := Source{PostID: post.ID, Title: post.Title, Author: post.Author, Upvotes: post.Upvotes}
	takeProfit := firstNumber(takeProfitPattern, text)
	stopLoss := firstNumber(stopLossPattern, text)

	seen := make(map[string]struct{})
	captured := make(map[string]struct{})
	var signals []Signal
	add := func(sig Signal) {
		if _, dup := seen[sig.Key()]; dup {
			return
		}
		seen[sig.Key()] = struct{}{}
		captured[sig.Token] = struct{}{}
		signals = append(signals, sig)
	}

	families := []struct {
		action   Action
		patterns []intentPattern
	}{
		{ActionBuy, buyPatterns},
		{ActionSell, sellPatterns},
	}
	for _, family := range families {
		for _, pattern := range family.patterns {
			for _, match := range pattern.re.FindAllStringSubmatch(text, -1) {
				symbol, ok := normalizeSymbol(match[pattern.token])
				if !ok {
					continue
				}
				confidence := base
				if e.IsKnown(symbol) {
					confidence = math.Min(base+knownTokenBonus, maxConfidence)
				}
				sig := Signal{
					Action:     family.action,
					Token:      symbol,
					Confidence: confidence,
					Source:     source,
					TakeProfit: takeProfit,
					StopLoss:   stopLoss,
				}
				if pattern.amount > 0 {
					sig.Amount = parseAmount(match[pattern.amount])
				}
				add(sig)
			}
		}
	}

	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		symbol, ok := normalizeSymbol(match[1])
		if !ok || !e.IsKnown(symbol) {
			continue
		}
		if _, done := captured[symbol]; done {
			continue
		}
		add(Signal{
			Action:     ActionBuy,
			Token:      symbol,
			Confidence: math.Max(base*mentionDiscount, minConfidence),
			Source:     source,
		})
	}
	return signals
}

// BaseConfidence 根据帖子得票计算基础置信度。
func BaseConfidence(upvotes, downvotes int) float64 {
	score := baseConfidence + float64(upvotes-downvotes)/votesPerConfidence
	return math.Min(math.Max(score, minConfidence), maxBaseConfidence)
}

func normalizeSymbol(raw string) (string, bool) {
	symbol := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	if len(symbol) < minSymbolLength || len(symbol) > maxSymbolLength {
		return "", false
	}
	if _, common := stopWords[symbol]; common {
		return "", false
	}
	for _, r := range symbol {
		if r < 'A' || r > 'Z' {
			return "", false
		}
	}
	return symbol, true
}

func firstNumber(pattern *regexp.Regexp, text string) string {
	match := pattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}

// parseAmount 将 "1.5k"、"2,000" 之类的写法规范化为十进制字符串。
func parseAmount(raw string) string {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return ""
	}
	multiplier := decimal.NewFromInt(1)
	switch raw[len(raw)-1] {
	case 'k', 'K':
		multiplier = decimal.NewFromInt(1_000)
		raw = raw[:len(raw)-1]
	case 'm', 'M':
		multiplier = decimal.NewFromInt(1_000_000)
		raw = raw[:len(raw)-1]
	}
	value, err := decimal.NewFromString(raw)
	if err != nil || !value.IsPositive() {
		return ""
	}
	return value.Mul(multiplier).String()
}
