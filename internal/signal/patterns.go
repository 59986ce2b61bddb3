package signal

import "regexp"

// intentPattern matches one phrasing of a trading intent. The token group is
// mandatory; the amount group is optional and may be absent from the regexp.
type intentPattern struct {
	re     *regexp.Regexp
	token  int
	amount int
}

func newIntentPattern(expr string) intentPattern {
	re := regexp.MustCompile(expr)
	return intentPattern{
		re:     re,
		token:  re.SubexpIndex("token"),
		amount: re.SubexpIndex("amount"),
	}
}

const (
	tokenExpr  = `(?P<token>\$?[A-Za-z][A-Za-z0-9]*)`
	amountExpr = `(?:(?P<amount>\d[\d,]*(?:\.\d+)?[kKmM]?)\s+)?`
	filler     = `(?:(?:some|more|my|all|the|a\s+bag\s+of|bags\s+of)\s+)?`
)

// Buy patterns are evaluated before sell patterns; within a family the order
// below decides which match counts as the first occurrence.
var buyPatterns = []intentPattern{
	newIntentPattern(`(?i)\b(?:buy|buying|bought|long|longing|longed|accumulate|accumulating|load(?:ing|ed)?(?:\s+up(?:\s+on)?)?|ape(?:d|ing)?(?:\s+into)?|fomo(?:'?d|ing)?(?:\s+into)?|stack(?:ing|ed)?|grab(?:bing|bed)?|scoop(?:ing|ed)?(?:\s+up)?)\s+` + filler + amountExpr + tokenExpr),
	newIntentPattern(`(?i)\bbullish\s+on\s+` + tokenExpr),
	newIntentPattern(`(?i)(?P<token>\$[A-Za-z][A-Za-z0-9]*)\s+(?:is\s+)?(?:going\s+)?to\s+the\s+moon`),
	newIntentPattern(`(?i)(?P<token>\$[A-Za-z][A-Za-z0-9]*)\s+(?:is\s+|about\s+to\s+|ready\s+to\s+|will\s+|gonna\s+)?(?:pump|pumping|breakout|breaking\s+out|mooning)\b`),
}

var sellPatterns = []intentPattern{
	newIntentPattern(`(?i)\b(?:sell|selling|sold|short|shorting|shorted|exit|exiting|exited|dump|dumping|dumped|tak(?:e|ing)\s+profits?\s+on|close|closing|closed|fade|fading|faded)\s+` + filler + amountExpr + tokenExpr),
	newIntentPattern(`(?i)\bbearish\s+on\s+` + tokenExpr),
	newIntentPattern(`(?i)(?P<token>\$[A-Za-z][A-Za-z0-9]*)\s+(?:is\s+)?(?:dump|dumping|crash|crashing|rug|rugged|rugging)\b`),
}

var (
	mentionPattern    = regexp.MustCompile(`\$([A-Za-z][A-Za-z0-9]*)\b`)
	takeProfitPattern = regexp.MustCompile(`(?i)\b(?:tp|take[\s-]?profit)\s*(?:at|@|:|=|of)?\s*\$?(\d+(?:\.\d+)?)`)
	stopLossPattern   = regexp.MustCompile(`(?i)\b(?:sl|stop[\s-]?loss)\s*(?:at|@|:|=|of)?\s*\$?(\d+(?:\.\d+)?)`)
)

// knownTokens 是人工维护的常见代币集合，命中时提高置信度。
var knownTokens = map[string]struct{}{
	"BTC": {}, "ETH": {}, "SOL": {}, "BNB": {}, "XRP": {}, "ADA": {}, "DOGE": {}, "SHIB": {},
	"PEPE": {}, "BONK": {}, "WIF": {}, "FLOKI": {}, "BRETT": {}, "DEGEN": {}, "TOSHI": {},
	"MOG": {}, "NEIRO": {}, "POPCAT": {}, "ARB": {}, "OP": {}, "LINK": {}, "UNI": {},
	"AAVE": {}, "AVAX": {}, "MATIC": {}, "POL": {}, "DOT": {}, "LTC": {}, "TRX": {},
	"TON": {}, "SUI": {}, "APT": {}, "INJ": {}, "TIA": {}, "SEI": {}, "JUP": {}, "PYTH": {},
	"NEAR": {}, "ATOM": {}, "RNDR": {}, "FET": {}, "ENA": {}, "ONDO": {}, "HYPE": {},
	"VIRTUAL": {}, "AERO": {}, "ZORA": {}, "TRUMP": {},
}

// stopWords 是容易被误识别为代币的常见英文单词。
var stopWords = map[string]struct{}{
	"IT": {}, "IS": {}, "IN": {}, "ON": {}, "AT": {}, "TO": {}, "OF": {}, "OR": {}, "AN": {},
	"AS": {}, "BE": {}, "BY": {}, "DO": {}, "GO": {}, "HE": {}, "IF": {}, "ME": {}, "MY": {},
	"NO": {}, "SO": {}, "UP": {}, "US": {}, "WE": {}, "OK": {}, "AM": {}, "IM": {},
	"THE": {}, "AND": {}, "FOR": {}, "ARE": {}, "BUT": {}, "NOT": {}, "YOU": {}, "ALL": {},
	"ANY": {}, "CAN": {}, "HAD": {}, "HER": {}, "WAS": {}, "ONE": {}, "OUR": {}, "OUT": {},
	"DAY": {}, "GET": {}, "HAS": {}, "HIM": {}, "HIS": {}, "HOW": {}, "MAN": {}, "NEW": {},
	"NOW": {}, "OLD": {}, "SEE": {}, "TWO": {}, "WAY": {}, "WHO": {}, "DID": {}, "ITS": {},
	"LET": {}, "PUT": {}, "SAY": {}, "SHE": {}, "TOO": {}, "USE": {}, "WHY": {}, "YET": {},
	"LOT": {}, "BIT": {}, "BIG": {}, "TOP": {}, "LOW": {}, "OFF": {}, "BAG": {}, "DIP": {},
	"RUG": {}, "ALT": {}, "GUY": {}, "GOT": {}, "BUY": {}, "ATH": {}, "FUD": {},
	"THIS": {}, "THAT": {}, "WITH": {}, "FROM": {}, "HAVE": {}, "MORE": {}, "SOME": {},
	"WHAT": {}, "WHEN": {}, "WILL": {}, "JUST": {}, "LIKE": {}, "TIME": {}, "INTO": {},
	"YEAR": {}, "YOUR": {}, "THEM": {}, "THEN": {}, "THAN": {}, "BEEN": {}, "ONLY": {},
	"OVER": {}, "ALSO": {}, "BACK": {}, "DIPS": {}, "MOON": {}, "PUMP": {}, "DUMP": {},
	"HERE": {}, "BAGS": {}, "COIN": {}, "HODL": {}, "HOLD": {}, "LONG": {}, "SOON": {},
	"HIGH": {}, "LOSS": {}, "CASH": {}, "MUCH": {}, "MANY": {}, "VERY": {}, "WELL": {},
	"EVEN": {}, "NEXT": {}, "LAST": {}, "LOTS": {}, "MEME": {}, "GUYS": {}, "NEED": {},
	"WANT": {}, "KNOW": {}, "LOOK": {}, "GOOD": {}, "BEST": {}, "NICE": {}, "SELL": {},
	"EVERY": {}, "SHORT": {}, "TODAY": {}, "AGAIN": {}, "PROFIT": {}, "MONEY": {},
	"STOCK": {}, "THESE": {}, "THOSE": {}, "OTHER": {}, "GOING": {}, "ABOUT": {},
	"RIGHT": {}, "STILL": {}, "FIRST": {}, "TRADE": {}, "ORDER": {}, "ENTRY": {},
	"ALTS": {}, "MEMES": {}, "WHERE": {}, "WOULD": {}, "COULD": {}, "MIGHT": {}, "THINK": {},
	"LOOKS": {}, "GREAT": {}, "WORST": {}, "AFTER": {}, "THERE": {}, "COINS": {}, "TOKEN": {},
	"TOKENS": {}, "CRYPTO": {}, "MARKET": {}, "PROFITS": {}, "SHARES": {}, "STOCKS": {},
	"REALLY": {}, "LITTLE": {}, "TRADES": {}, "ORDERS": {}, "PEOPLE": {}, "ANYONE": {},
	"SHOULD": {}, "BOTTOM": {}, "FINALLY": {}, "SOMEONE": {}, "TOMORROW": {}, "POSITION": {},
	"ALTCOINS": {}, "ANYTHING": {}, "EVERYTHING": {}, "SHITCOINS": {}, "WEEK": {}, "MONTH": {},
	"WEEKS": {}, "DAYS": {}, "HOURS": {}, "MONTHS": {}, "YEARS": {}, "MINUTES": {},
	"SHIT": {}, "BAD": {}, "CALL": {}, "CALLS": {}, "PUTS": {}, "DOWN": {}, "HARD": {},
	// 交易术语搭配，如 short squeeze、long term、exit strategy。
	"SQUEEZE": {}, "SQUEEZES": {}, "TERM": {}, "TERMS": {}, "STRATEGY": {}, "PLAN": {},
	"PLAY": {}, "PLAYS": {}, "SETUP": {}, "SETUPS": {}, "RUN": {}, "RUNS": {}, "GAME": {},
	"SIGNAL": {}, "SIGNALS": {}, "TARGET": {}, "TARGETS": {}, "SELLERS": {}, "BUYERS": {},
	"SELLING": {}, "BUYING": {}, "PRESSURE": {}, "HOLDERS": {}, "INTEREST": {}, "WAIT": {},
	"EARLY": {}, "LATE": {}, "LIQUIDITY": {}, "WINDOW": {},
}
